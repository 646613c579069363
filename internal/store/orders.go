package store

import (
	"context"
	"database/sql"
	"errors"

	"cafe-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, customer_name, cpf, payment_method, total, created_at, idempotency_key`

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// CreateOrder creates a new order
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_name, cpf, payment_method, total, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.ext, order, query,
		order.CustomerName, order.CPF, order.PaymentMethod, order.Total, order.IdempotencyKey)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return models.ErrIdempotencyKeyTaken
	}
	return err
}

// GetOrderByID retrieves an order by ID
func (q *queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return q.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
}

func (q *queries) getOrder(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.ext, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrderItem creates a new order item
func (q *queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, subtotal)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return sqlx.GetContext(ctx, q.ext, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.Subtotal)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (q *queries) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := sqlx.SelectContext(ctx, q.ext, &items, `
		SELECT id, order_id, product_id, quantity, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	return items, err
}
