package store

import (
	"context"
	"database/sql"
	"errors"

	"cafe-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const stockColumns = "product_id, amount, version, updated_at"

// GetStock retrieves the stock entry for a product
func (q *queries) GetStock(ctx context.Context, productID int64) (*models.StockEntry, error) {
	return q.getStock(ctx,
		"SELECT "+stockColumns+" FROM stock WHERE product_id = $1", productID)
}

// LockStock reads the stock entry with a row lock (FOR UPDATE)
func (q *queries) LockStock(ctx context.Context, productID int64) (*models.StockEntry, error) {
	return q.getStock(ctx,
		"SELECT "+stockColumns+" FROM stock WHERE product_id = $1 FOR UPDATE", productID)
}

// DecrementStock is a conditional decrement guarded by amount >= quantity in
// the same statement, so two callers can never both take the last unit.
func (q *queries) DecrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error) {
	entry, err := q.getStock(ctx, `
		UPDATE stock
		SET amount = amount - $1, version = version + 1, updated_at = NOW()
		WHERE product_id = $2 AND amount >= $1
		RETURNING `+stockColumns,
		quantity, productID)
	if !errors.Is(err, models.ErrNotFound) {
		return entry, err
	}

	// Nothing matched: either no entry or not enough stock.
	if _, err := q.GetStock(ctx, productID); err != nil {
		return nil, err
	}
	return nil, models.ErrInsufficientStock
}

// IncrementStock adds quantity back to the entry
func (q *queries) IncrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error) {
	return q.getStock(ctx, `
		UPDATE stock
		SET amount = amount + $1, version = version + 1, updated_at = NOW()
		WHERE product_id = $2
		RETURNING `+stockColumns,
		quantity, productID)
}

// SetStock overwrites the amount
func (q *queries) SetStock(ctx context.Context, productID int64, amount int) (*models.StockEntry, error) {
	return q.getStock(ctx, `
		UPDATE stock
		SET amount = $1, version = version + 1, updated_at = NOW()
		WHERE product_id = $2
		RETURNING `+stockColumns,
		amount, productID)
}

func (q *queries) getStock(ctx context.Context, query string, args ...interface{}) (*models.StockEntry, error) {
	var entry models.StockEntry
	err := sqlx.GetContext(ctx, q.ext, &entry, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
