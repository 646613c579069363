package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog; the cart and order flows only read it.
type Product struct {
	ID       int64           `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	ImageURL string          `db:"image_url" json:"image_url"`
}

// StockEntry is the available quantity of one product. Amount never drops
// below zero; Version increases on every mutation.
type StockEntry struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Amount    int       `db:"amount" json:"amount"`
	Version   int64     `db:"version" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is a stock reservation backing one line of a cart.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	CartID    int64     `db:"cart_id" json:"cart_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine is a cart item joined with its product.
type CartLine struct {
	ID       int64           `db:"id" json:"id"`
	Name     string          `db:"name" json:"name"`
	Price    decimal.Decimal `db:"price" json:"price"`
	Quantity int             `db:"quantity" json:"quantity"`
}

// Order is immutable once created.
type Order struct {
	ID            int64           `db:"id" json:"id"`
	CustomerName  string          `db:"customer_name" json:"customer_name"`
	CPF           string          `db:"cpf" json:"cpf"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	Total         decimal.Decimal `db:"total" json:"total"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	// IdempotencyKey is nil for orders placed without an Idempotency-Key.
	IdempotencyKey *string `db:"idempotency_key" json:"-"`
}

// OrderItem belongs to exactly one Order and is created with it.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
