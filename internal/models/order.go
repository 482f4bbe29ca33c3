package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a buyer's purchase with one lifecycle status.
type Order struct {
	ID              int64           `json:"order_id"`
	UserID          int64           `json:"user_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	Status          OrderStatus     `json:"order_status"`
	PlacedAt        time.Time       `json:"placed_at"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	RazorpayOrderID string          `json:"razorpay_order_id,omitempty"`
}

// OrderItem is a line of an order. Items are only read by this service.
type OrderItem struct {
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderItemView is one row of an order joined with one of its items.
type OrderItemView struct {
	OrderID         int64           `json:"order_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// CreateOrderRequest is the raw inbound order. Status and method are parsed
// by the service.
type CreateOrderRequest struct {
	UserID          int64           `json:"user_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	OrderStatus     string          `json:"order_status"`
	PlacedAt        *time.Time      `json:"placed_at"`
	PaymentMethod   string          `json:"payment_method"`
}

// UpdatePaymentReferenceRequest attaches a gateway order reference.
type UpdatePaymentReferenceRequest struct {
	RazorpayOrderID string `json:"razorpay_order_id"`
}
