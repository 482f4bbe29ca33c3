package models

import "github.com/shopspring/decimal"

// Payment is the settlement record owned by exactly one order.
type Payment struct {
	ID       int64           `json:"payment_id"`
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   PaymentMethod   `json:"payment_method"`
	Status   PaymentStatus   `json:"status"`
}
