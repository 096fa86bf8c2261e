package orders

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the order core. Validation errors are caller
// fixable and are always returned before anything is written.
var (
	ErrClientNotFound    = errors.New("client not found")
	ErrEmptyOrder        = errors.New("an order must have at least one item")
	ErrInvalidQuantity   = errors.New("item quantity must be greater than zero")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrNoOpTransition    = errors.New("status transition is a no-op")
	ErrPersistence       = errors.New("persistence failure")

	// ErrStockConflict is returned by Tx.DecrementStock when the guarded
	// update finds less stock than requested.
	ErrStockConflict = errors.New("stock changed concurrently")
)

// InsufficientStockError carries the numbers behind an ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
	// Concurrent is set when the stock check passed but the guarded
	// decrement inside the transaction failed.
	Concurrent bool
}

func (e *InsufficientStockError) Error() string {
	if e.Concurrent {
		return fmt.Sprintf("insufficient stock for product '%s': stock changed while the order was placed. Requested: %d", e.ProductName, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product '%s'. Available: %d, Requested: %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// StockConflictError identifies the product whose guarded decrement failed.
type StockConflictError struct {
	ProductID int64
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock changed concurrently for product %d", e.ProductID)
}

func (e *StockConflictError) Is(target error) bool { return target == ErrStockConflict }

// PersistenceError wraps an infrastructure failure. The transaction it
// happened in has been rolled back by the time the caller sees it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsValidation reports whether err is a caller-fixable order validation error.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrClientNotFound),
		errors.Is(err, ErrEmptyOrder),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock):
		return true
	}
	return false
}
