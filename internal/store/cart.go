package store

import (
	"context"
	"database/sql"
	"errors"
	"iter"

	"cafe-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateCartItem inserts a cart item and fills in its ID
func (q *queries) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_products (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.ext, item, query,
		item.CartID, item.ProductID, item.Quantity)
}

// DeleteCartItem deletes a cart item and returns what was deleted. Two
// concurrent deletes of the same row cannot both see it.
func (q *queries) DeleteCartItem(ctx context.Context, id int64) (*models.CartItem, error) {
	var item models.CartItem
	err := sqlx.GetContext(ctx, q.ext, &item, `
		DELETE FROM cart_products
		WHERE id = $1
		RETURNING id, cart_id, product_id, quantity, created_at`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CartLines streams the items of a cart joined with their products. Every
// range over the returned sequence runs the query again.
func (q *queries) CartLines(ctx context.Context, cartID int64) iter.Seq2[models.CartLine, error] {
	return func(yield func(models.CartLine, error) bool) {
		rows, err := q.ext.QueryxContext(ctx, `
			SELECT cp.id, p.name, p.price, cp.quantity
			FROM cart_products cp
			JOIN products p ON p.id = cp.product_id
			WHERE cp.cart_id = $1
			ORDER BY cp.id`, cartID)
		if err != nil {
			yield(models.CartLine{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var line models.CartLine
			if err := rows.StructScan(&line); err != nil {
				yield(models.CartLine{}, err)
				return
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.CartLine{}, err)
		}
	}
}
