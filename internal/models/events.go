package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeStockReserved = "STOCK_RESERVED"
	EventTypeStockReleased = "STOCK_RELEASED"
	EventTypeStockAdjusted = "STOCK_ADJUSTED"
	EventTypeOrderPlaced   = "ORDER_PLACED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockChangedEvent is published after a committed stock mutation. Amount
// and Version are the values the mutation left behind.
type StockChangedEvent struct {
	BaseEvent
	ProductID  int64 `json:"product_id"`
	Delta      int   `json:"delta"`
	Amount     int   `json:"amount"`
	Version    int64 `json:"version"`
	CartItemID int64 `json:"cart_item_id,omitempty"`
}

// OrderPlacedEvent published when an order and its items are committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
	Items   []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
