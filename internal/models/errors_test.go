package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrOutOfStock))
	assert.True(t, IsValidation(fmt.Errorf("product 7: %w", ErrInsufficientStock)))
	assert.False(t, IsValidation(ErrNotFound))
	assert.False(t, IsValidation(errors.New("connection reset")))
}

func TestTxFailureKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")

	err := TxFailure("insert order item", cause)

	assert.ErrorIs(t, err, ErrTransactionFailure)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsValidation(err))
	assert.Same(t, err, TxFailure("outer", err))
	assert.NoError(t, TxFailure("noop", nil))
}

func TestLimitsMatchColumns(t *testing.T) {
	assert.Equal(t, int64(2147483647), int64(MaxQuantity))
	assert.Equal(t, "10000000000", MoneyLimit.String())
	assert.True(t, IsValidation(ErrInvalidTotal))
	assert.False(t, IsValidation(ErrIdempotencyKeyTaken))
}
