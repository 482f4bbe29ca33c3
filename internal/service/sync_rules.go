package service

import "github.com/tm-acme-shop/acme-shop-order-sync/internal/models"

// TargetPaymentStatus is the payment status an order status implies for a
// given method. COD is captured on delivery; UPI is captured at checkout and
// only reverts on cancellation, expiry or refund.
func TargetPaymentStatus(method models.PaymentMethod, orderStatus models.OrderStatus) models.PaymentStatus {
	switch orderStatus {
	case models.OrderStatusDelivered:
		return models.PaymentStatusPaid
	case models.OrderStatusCancelled, models.OrderStatusExpired:
		return models.PaymentStatusFailed
	case models.OrderStatusRefunded:
		return models.PaymentStatusRefunded
	case models.OrderStatusPending:
		return models.PaymentStatusPending
	}

	if method == models.PaymentMethodUPI {
		return models.PaymentStatusPaid
	}
	return models.PaymentStatusPending
}

// DeriveOrderStatus is the order status a payment status implies, given the
// order's current status.
func DeriveOrderStatus(paymentStatus models.PaymentStatus, current models.OrderStatus) models.OrderStatus {
	switch paymentStatus {
	case models.PaymentStatusPaid:
		// PAID only advances a PENDING order.
		if current == models.OrderStatusPending {
			return models.OrderStatusProcessing
		}
		return current
	case models.PaymentStatusRefunded:
		return models.OrderStatusRefunded
	case models.PaymentStatusFailed, models.PaymentStatusPending:
		return models.OrderStatusPending
	}
	return current
}
