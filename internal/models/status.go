package models

import (
	"strings"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
	OrderStatusExpired    OrderStatus = "EXPIRED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusExpired,
}

// IsProcessed reports whether the order has left the warehouse.
// Processed orders can no longer be cancelled.
func (s OrderStatus) IsProcessed() bool {
	return s == OrderStatusShipped || s == OrderStatusDelivered
}

func (s OrderStatus) String() string { return string(s) }

// PaymentStatus is the settlement status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// IsTerminal reports whether automatic synchronization must leave the status alone.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

func (s PaymentStatus) String() string { return string(s) }

// PaymentMethod is how the buyer settles an order.
type PaymentMethod string

const (
	PaymentMethodCOD PaymentMethod = "COD"
	PaymentMethodUPI PaymentMethod = "UPI"
)

func (m PaymentMethod) String() string { return string(m) }

// CurrencyINR is the settlement currency for every payment.
const CurrencyINR = "INR"

// ParseOrderStatus parses an order status, ignoring case and surrounding space.
func ParseOrderStatus(s string) (OrderStatus, error) {
	v := OrderStatus(normalize(s))
	for _, status := range orderStatuses {
		if v == status {
			return status, nil
		}
	}
	return "", errors.NewValidationError("order_status", "unknown order status "+quote(s))
}

// ParsePaymentStatus parses a payment status, ignoring case and surrounding space.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	v := PaymentStatus(normalize(s))
	for _, status := range paymentStatuses {
		if v == status {
			return status, nil
		}
	}
	return "", errors.NewValidationError("payment_status", "unknown payment status "+quote(s))
}

// ParsePaymentMethod parses a payment method. Anything other than COD or UPI
// yields ErrInvalidPaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(normalize(s)) {
	case PaymentMethodCOD:
		return PaymentMethodCOD, nil
	case PaymentMethodUPI:
		return PaymentMethodUPI, nil
	}
	return "", errors.InvalidPaymentMethod(s)
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func quote(s string) string {
	return "\"" + s + "\""
}
