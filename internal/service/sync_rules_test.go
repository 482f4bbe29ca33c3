package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

func TestTargetPaymentStatus(t *testing.T) {
	tests := []struct {
		status models.OrderStatus
		cod    models.PaymentStatus
		upi    models.PaymentStatus
	}{
		{models.OrderStatusDelivered, models.PaymentStatusPaid, models.PaymentStatusPaid},
		{models.OrderStatusCancelled, models.PaymentStatusFailed, models.PaymentStatusFailed},
		{models.OrderStatusExpired, models.PaymentStatusFailed, models.PaymentStatusFailed},
		{models.OrderStatusRefunded, models.PaymentStatusRefunded, models.PaymentStatusRefunded},
		{models.OrderStatusPending, models.PaymentStatusPending, models.PaymentStatusPending},
		{models.OrderStatusProcessing, models.PaymentStatusPending, models.PaymentStatusPaid},
		{models.OrderStatusShipped, models.PaymentStatusPending, models.PaymentStatusPaid},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.cod, TargetPaymentStatus(models.PaymentMethodCOD, tt.status))
			assert.Equal(t, tt.upi, TargetPaymentStatus(models.PaymentMethodUPI, tt.status))
		})
	}
}

func TestDeriveOrderStatus(t *testing.T) {
	tests := []struct {
		name    string
		payment models.PaymentStatus
		current models.OrderStatus
		want    models.OrderStatus
	}{
		{"paid advances pending", models.PaymentStatusPaid, models.OrderStatusPending, models.OrderStatusProcessing},
		{"paid leaves shipped", models.PaymentStatusPaid, models.OrderStatusShipped, models.OrderStatusShipped},
		{"paid leaves cancelled", models.PaymentStatusPaid, models.OrderStatusCancelled, models.OrderStatusCancelled},
		{"refunded from delivered", models.PaymentStatusRefunded, models.OrderStatusDelivered, models.OrderStatusRefunded},
		{"refunded from pending", models.PaymentStatusRefunded, models.OrderStatusPending, models.OrderStatusRefunded},
		{"failed reopens processing", models.PaymentStatusFailed, models.OrderStatusProcessing, models.OrderStatusPending},
		{"pending stays pending", models.PaymentStatusPending, models.OrderStatusPending, models.OrderStatusPending},
		{"pending resets processing", models.PaymentStatusPending, models.OrderStatusProcessing, models.OrderStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveOrderStatus(tt.payment, tt.current))
		})
	}
}

func TestItemsTotal(t *testing.T) {
	items := []models.OrderItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("149.995")},
		{Quantity: 3, UnitPrice: decimal.RequireFromString("10")},
	}
	assert.Equal(t, "329.99", ItemsTotal(items).String())
	assert.True(t, ItemsTotal(nil).IsZero())
}
