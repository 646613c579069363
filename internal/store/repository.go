package store

import (
	"context"
	"iter"

	"cafe-service/internal/models"
)

// Repository is the set of queries the cart and order flows run. A
// Repository handed out by WithTx is bound to one transaction.
//
// Lookups return models.ErrNotFound when the row is absent.
type Repository interface {
	GetStock(ctx context.Context, productID int64) (*models.StockEntry, error)
	// LockStock reads the entry and holds it until the surrounding
	// transaction ends.
	LockStock(ctx context.Context, productID int64) (*models.StockEntry, error)
	// DecrementStock subtracts quantity only when amount >= quantity and
	// returns models.ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error)
	IncrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error)
	SetStock(ctx context.Context, productID int64, amount int) (*models.StockEntry, error)

	CreateCartItem(ctx context.Context, item *models.CartItem) error
	// DeleteCartItem removes the item and returns the removed row.
	DeleteCartItem(ctx context.Context, id int64) (*models.CartItem, error)
	CartLines(ctx context.Context, cartID int64) iter.Seq2[models.CartLine, error]

	// CreateOrder returns models.ErrIdempotencyKeyTaken when another order
	// already carries the same idempotency key.
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// TxStore is a Repository that can also open transactions.
type TxStore interface {
	Repository
	// WithTx runs fn inside one transaction. It commits when fn returns nil
	// and rolls back otherwise, including when fn panics.
	WithTx(ctx context.Context, fn func(repo Repository) error) error
	Ping(ctx context.Context) error
}

// EventLog records consumed events so redelivered messages are skipped.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
