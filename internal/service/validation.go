package service

import (
	"strings"

	"github.com/tm-acme-shop/acme-shop-order-sync/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

const (
	maxAddressLength   = 500
	maxReferenceLength = 64
)

// ValidateCreateOrderRequest validates an order creation request. Status and
// payment method are checked by their parsers.
func ValidateCreateOrderRequest(req *models.CreateOrderRequest) error {
	if req.UserID <= 0 {
		return errors.NewValidationError("user_id", "user ID is required")
	}

	if req.TotalAmount.IsNegative() {
		return errors.NewValidationError("total_amount", "total amount cannot be negative")
	}

	if err := validateAddress(req.ShippingAddress, "shipping_address"); err != nil {
		return err
	}

	return nil
}

func validateAddress(addr, field string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.NewValidationError(field, "address is required")
	}

	if len(addr) > maxAddressLength {
		return errors.NewValidationError(field, "address too long (max 500 characters)")
	}

	return nil
}

// ValidatePaymentReference validates a gateway order reference.
func ValidatePaymentReference(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return errors.NewValidationError("razorpay_order_id", "payment reference is required")
	}

	if len(ref) > maxReferenceLength {
		return errors.NewValidationError("razorpay_order_id", "payment reference too long (max 64 characters)")
	}

	return nil
}

// ValidateID rejects non-positive identifiers.
func ValidateID(field string, id int64) error {
	if id <= 0 {
		return errors.NewValidationError(field, "must be a positive integer")
	}
	return nil
}
