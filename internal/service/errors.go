package service

import (
	"errors"
	"fmt"

	"reservation-service/internal/store"
)

// Error kinds surfaced by the lifecycle and read operations. Match with errors.Is.
var (
	ErrNotFound          = store.ErrNotFound
	ErrInsufficientStock = store.ErrInsufficientStock
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrEmptyOrder        = errors.New("reservation has no items")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
)

// InsufficientStockError names the product that could not cover a request
type InsufficientStockError = store.InsufficientStockError

// TransitionError reports a lifecycle event the current status does not accept
type TransitionError struct {
	From  string
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s reservation", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// QuantityError reports a non-positive requested quantity
type QuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %d", e.Quantity, e.ProductID)
}

func (e *QuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// failureReason is the metric label for an operation error
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
