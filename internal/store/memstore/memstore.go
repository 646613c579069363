// Package memstore is an in-memory store.TxStore. Transactions are
// serialized and work on a copy of the data that replaces the live copy only
// on commit, so a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"cafe-service/internal/models"
	"cafe-service/internal/store"
)

var (
	_ store.TxStore  = (*Store)(nil)
	_ store.EventLog = (*Store)(nil)
)

type data struct {
	products   map[int64]models.Product
	stock      map[int64]models.StockEntry
	cartItems  map[int64]models.CartItem
	orders     map[int64]models.Order
	orderItems []models.OrderItem
	processed  map[string]models.ProcessedEvent

	lastCartItemID  int64
	lastOrderID     int64
	lastOrderItemID int64
}

func (d *data) clone() *data {
	c := *d
	c.products = maps.Clone(d.products)
	c.stock = maps.Clone(d.stock)
	c.cartItems = maps.Clone(d.cartItems)
	c.orders = maps.Clone(d.orders)
	c.orderItems = slices.Clone(d.orderItems)
	c.processed = maps.Clone(d.processed)
	return &c
}

type Store struct {
	mu   sync.Mutex
	data *data
}

func New() *Store {
	return &Store{
		data: &data{
			products:  make(map[int64]models.Product),
			stock:     make(map[int64]models.StockEntry),
			cartItems: make(map[int64]models.CartItem),
			orders:    make(map[int64]models.Order),
			processed: make(map[string]models.ProcessedEvent),
		},
	}
}

// AddProduct registers a catalog product together with its stock entry.
func (s *Store) AddProduct(p models.Product, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.products[p.ID] = p
	s.data.stock[p.ID] = models.StockEntry{ProductID: p.ID, Amount: amount, UpdatedAt: time.Now().UTC()}
}

// AddProductWithoutStock registers a product that has no stock entry.
func (s *Store) AddProductWithoutStock(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.products[p.ID] = p
}

// OrderCount reports how many orders and order items are stored.
func (s *Store) OrderCount() (orders, items int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data.orders), len(s.data.orderItems)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.data.clone()
	if err := fn(&tx{data: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

func (s *Store) view(fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{data: s.data})
}

func (s *Store) GetStock(ctx context.Context, productID int64) (entry *models.StockEntry, err error) {
	err = s.view(func(t *tx) error {
		entry, err = t.GetStock(ctx, productID)
		return err
	})
	return entry, err
}

func (s *Store) LockStock(ctx context.Context, productID int64) (*models.StockEntry, error) {
	return s.GetStock(ctx, productID)
}

func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) (entry *models.StockEntry, err error) {
	err = s.view(func(t *tx) error {
		entry, err = t.DecrementStock(ctx, productID, quantity)
		return err
	})
	return entry, err
}

func (s *Store) IncrementStock(ctx context.Context, productID int64, quantity int) (entry *models.StockEntry, err error) {
	err = s.view(func(t *tx) error {
		entry, err = t.IncrementStock(ctx, productID, quantity)
		return err
	})
	return entry, err
}

func (s *Store) SetStock(ctx context.Context, productID int64, amount int) (entry *models.StockEntry, err error) {
	err = s.view(func(t *tx) error {
		entry, err = t.SetStock(ctx, productID, amount)
		return err
	})
	return entry, err
}

func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	return s.view(func(t *tx) error {
		return t.CreateCartItem(ctx, item)
	})
}

func (s *Store) DeleteCartItem(ctx context.Context, id int64) (item *models.CartItem, err error) {
	err = s.view(func(t *tx) error {
		item, err = t.DeleteCartItem(ctx, id)
		return err
	})
	return item, err
}

// CartLines copies the lines under the lock and yields them after releasing
// it, so the caller may use the store while ranging.
func (s *Store) CartLines(ctx context.Context, cartID int64) iter.Seq2[models.CartLine, error] {
	return func(yield func(models.CartLine, error) bool) {
		s.mu.Lock()
		lines := (&tx{data: s.data}).cartLines(cartID)
		s.mu.Unlock()

		for _, line := range lines {
			if err := ctx.Err(); err != nil {
				yield(models.CartLine{}, err)
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.view(func(t *tx) error {
		return t.CreateOrder(ctx, order)
	})
}

func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return s.view(func(t *tx) error {
		return t.CreateOrderItem(ctx, item)
	})
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (order *models.Order, err error) {
	err = s.view(func(t *tx) error {
		order, err = t.GetOrderByID(ctx, id)
		return err
	})
	return order, err
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (order *models.Order, err error) {
	err = s.view(func(t *tx) error {
		order, err = t.GetOrderByIdempotencyKey(ctx, key)
		return err
	})
	return order, err
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) (items []models.OrderItem, err error) {
	err = s.view(func(t *tx) error {
		items, err = t.GetOrderItemsByOrderID(ctx, orderID)
		return err
	})
	return items, err
}

func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.processed[eventID]; !ok {
		s.data.processed[eventID] = models.ProcessedEvent{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: time.Now().UTC(),
		}
	}
	return nil
}
