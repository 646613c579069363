package memstore

import (
	"context"
	"iter"
	"sort"
	"time"

	"cafe-service/internal/models"
	"cafe-service/internal/store"
)

var _ store.Repository = (*tx)(nil)

// tx operates on data without locking; the caller holds Store.mu.
type tx struct {
	data *data
}

func (t *tx) GetStock(ctx context.Context, productID int64) (*models.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := t.data.stock[productID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &entry, nil
}

func (t *tx) LockStock(ctx context.Context, productID int64) (*models.StockEntry, error) {
	return t.GetStock(ctx, productID)
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error) {
	entry, err := t.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	if entry.Amount < quantity {
		return nil, models.ErrInsufficientStock
	}
	return t.putStock(entry, entry.Amount-quantity), nil
}

func (t *tx) IncrementStock(ctx context.Context, productID int64, quantity int) (*models.StockEntry, error) {
	entry, err := t.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	return t.putStock(entry, entry.Amount+quantity), nil
}

func (t *tx) SetStock(ctx context.Context, productID int64, amount int) (*models.StockEntry, error) {
	entry, err := t.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	return t.putStock(entry, amount), nil
}

func (t *tx) putStock(entry *models.StockEntry, amount int) *models.StockEntry {
	entry.Amount = amount
	entry.Version++
	entry.UpdatedAt = time.Now().UTC()
	t.data.stock[entry.ProductID] = *entry
	return entry
}

func (t *tx) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.data.lastCartItemID++
	item.ID = t.data.lastCartItemID
	item.CreatedAt = time.Now().UTC()
	t.data.cartItems[item.ID] = *item
	return nil
}

func (t *tx) DeleteCartItem(ctx context.Context, id int64) (*models.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, ok := t.data.cartItems[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(t.data.cartItems, id)
	return &item, nil
}

func (t *tx) CartLines(ctx context.Context, cartID int64) iter.Seq2[models.CartLine, error] {
	lines := t.cartLines(cartID)
	return func(yield func(models.CartLine, error) bool) {
		for _, line := range lines {
			if !yield(line, nil) {
				return
			}
		}
	}
}

// cartLines is an inner join: items whose product is gone are skipped.
func (t *tx) cartLines(cartID int64) []models.CartLine {
	var lines []models.CartLine
	for _, item := range t.data.cartItems {
		if item.CartID != cartID {
			continue
		}
		p, ok := t.data.products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{
			ID:       item.ID,
			Name:     p.Name,
			Price:    p.Price,
			Quantity: item.Quantity,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

func (t *tx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.IdempotencyKey != nil {
		if _, err := t.GetOrderByIdempotencyKey(ctx, *order.IdempotencyKey); err == nil {
			return models.ErrIdempotencyKeyTaken
		}
	}
	t.data.lastOrderID++
	order.ID = t.data.lastOrderID
	order.CreatedAt = time.Now().UTC()
	t.data.orders[order.ID] = *order
	return nil
}

func (t *tx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.data.orders[item.OrderID]; !ok {
		return models.ErrNotFound
	}
	t.data.lastOrderItemID++
	item.ID = t.data.lastOrderItemID
	t.data.orderItems = append(t.data.orderItems, *item)
	return nil
}

func (t *tx) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order, ok := t.data.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &order, nil
}

func (t *tx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, order := range t.data.orders {
		if order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			return &order, nil
		}
	}
	return nil, models.ErrNotFound
}

func (t *tx) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := []models.OrderItem{}
	for _, item := range t.data.orderItems {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}
