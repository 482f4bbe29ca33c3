// Package errors defines the error taxonomy shared by the order sync service.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrNotFound              = stderrors.New("resource not found")
	ErrInvalidPaymentMethod  = stderrors.New("payment method not supported")
	ErrOrderAlreadyProcessed = stderrors.New("order already processed")
	ErrPersistence           = stderrors.New("persistence failure")
	ErrPaymentNotFound       = stderrors.New("payment not found")
	ErrUnauthorized          = stderrors.New("unauthorized")
	ErrForbidden             = stderrors.New("forbidden")
)

// ValidationError describes a rejected field on an inbound request.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// OrderAlreadyProcessedError is returned when a buyer tries to cancel an order
// that has already shipped or been delivered.
type OrderAlreadyProcessedError struct {
	OrderID int64
	Status  string
}

func (e *OrderAlreadyProcessedError) Error() string {
	return fmt.Sprintf("order %d already processed: status %s", e.OrderID, e.Status)
}

func (e *OrderAlreadyProcessedError) Is(target error) bool {
	return target == ErrOrderAlreadyProcessed
}

// InvalidPaymentMethod wraps ErrInvalidPaymentMethod with the rejected value.
func InvalidPaymentMethod(method string) error {
	return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
}

// NotFound wraps ErrNotFound with the missing resource.
func NotFound(resource string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, resource, id)
}

// Persistence wraps ErrPersistence for a write that touched no rows.
func Persistence(op string, id int64) error {
	return fmt.Errorf("%w: %s affected no rows for id %d", ErrPersistence, op, id)
}

// PaymentNotFound wraps ErrPaymentNotFound for an order without a payment.
func PaymentNotFound(orderID int64) error {
	return fmt.Errorf("%w: order %d", ErrPaymentNotFound, orderID)
}

// Is, As and Join are re-exported so callers need a single errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func New(text string) error { return stderrors.New(text) }
