package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity or stock amount the store can hold.
const MaxQuantity = math.MaxInt32

// MoneyLimit is the exclusive upper bound of any stored amount of money
// (NUMERIC(12,2)).
var MoneyLimit = decimal.New(1, 10)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoStockRecord     = errors.New("product has no stock record")
	ErrOutOfStock        = errors.New("product out of stock")
	ErrInsufficientStock = errors.New("requested quantity exceeds stock")
	ErrInvalidQuantity   = errors.New("quantity must be between 1 and 2147483647")
	ErrInvalidAmount     = errors.New("stock amount must be between 0 and 2147483647")
	ErrIncompleteOrder   = errors.New("incomplete order data")
	ErrInvalidSubtotal   = errors.New("subtotal must be a non-negative amount below 10000000000 with at most two decimals")
	ErrInvalidTotal      = errors.New("order total must be below 10000000000")

	ErrTransactionFailure = errors.New("transaction failure")
	ErrDuplicateRequest   = errors.New("request with this idempotency key is still in progress")
	// ErrIdempotencyKeyTaken is returned by the store when an order with the
	// same idempotency key already exists.
	ErrIdempotencyKeyTaken = errors.New("idempotency key already used")
)

var validationErrors = []error{
	ErrNoStockRecord,
	ErrOutOfStock,
	ErrInsufficientStock,
	ErrInvalidQuantity,
	ErrInvalidAmount,
	ErrIncompleteOrder,
	ErrInvalidSubtotal,
	ErrInvalidTotal,
}

// IsValidation reports whether err is a caller error detected before any
// mutation took place.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TxFailure marks err as a failure of the durable store in the middle of a
// multi-step sequence. Both ErrTransactionFailure and err stay matchable.
func TxFailure(op string, err error) error {
	if err == nil || errors.Is(err, ErrTransactionFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionFailure, err)
}
