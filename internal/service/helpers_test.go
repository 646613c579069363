package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"cafe-service/internal/models"
	"cafe-service/internal/store"
	"cafe-service/internal/store/memstore"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	stock  []*models.StockChangedEvent
	orders []*models.OrderPlacedEvent
	err    error
}

func (r *recordingPublisher) PublishStockChanged(_ context.Context, e *models.StockChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock = append(r.stock, e)
	return r.err
}

func (r *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, e)
	return r.err
}

func (r *recordingPublisher) stockEvents() []*models.StockChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.StockChangedEvent(nil), r.stock...)
}

type fakeCache struct {
	mu       sync.Mutex
	amounts  map[int64]int
	versions map[int64]int64
	err      error
}

func newFakeCache(amounts map[int64]int) *fakeCache {
	f := &fakeCache{amounts: amounts, versions: make(map[int64]int64)}
	if f.amounts == nil {
		f.amounts = make(map[int64]int)
	}
	return f
}

func (f *fakeCache) CacheStock(_ context.Context, productID int64, amount int, version int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if version <= f.versions[productID] {
		return false, nil
	}
	f.amounts[productID] = amount
	f.versions[productID] = version
	return true, nil
}

func (f *fakeCache) cached(productID int64) (int, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.amounts[productID], f.versions[productID]
}

var testKeyTTL = IdempotencyTTL{Pending: 30 * time.Second, Done: time.Hour}

type fakeIdempotency struct {
	mu          sync.Mutex
	keys        map[string]int64
	broken      bool
	claimTTLs   []time.Duration
	completeTTL []time.Duration
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]int64)}
}

func (f *fakeIdempotency) ClaimIdempotencyKey(_ context.Context, key string, ttl time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return false, 0, errors.New("redis: connection refused")
	}
	f.claimTTLs = append(f.claimTTLs, ttl)
	if orderID, ok := f.keys[key]; ok {
		return false, orderID, nil
	}
	f.keys[key] = 0
	return true, 0, nil
}

func (f *fakeIdempotency) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeTTL = append(f.completeTTL, ttl)
	f.keys[key] = orderID
	return nil
}

func (f *fakeIdempotency) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

// failingStore fails the Nth CreateOrderItem or the first CreateCartItem of
// every transaction.
type failingStore struct {
	store.TxStore
	failOrderItem int
	failCartItem  bool
	onFail        func()
}

func (f *failingStore) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return f.TxStore.WithTx(ctx, func(repo store.Repository) error {
		return fn(&failingRepo{Repository: repo, owner: f})
	})
}

type failingRepo struct {
	store.Repository
	owner      *failingStore
	orderItems int
}

var errDiskFull = errors.New("disk full")

func (r *failingRepo) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	r.orderItems++
	if r.orderItems == r.owner.failOrderItem {
		if r.owner.onFail != nil {
			r.owner.onFail()
		}
		return errDiskFull
	}
	return r.Repository.CreateOrderItem(ctx, item)
}

func (r *failingRepo) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	if r.owner.failCartItem {
		return errDiskFull
	}
	return r.Repository.CreateCartItem(ctx, item)
}

func newSeededStore() *memstore.Store {
	st := memstore.New()
	st.AddProduct(models.Product{ID: 7, Name: "Pão de queijo", Price: decimal.RequireFromString("5.00")}, 5)
	st.AddProduct(models.Product{ID: 8, Name: "Espresso", Price: decimal.RequireFromString("6.50")}, 0)
	st.AddProduct(models.Product{ID: 9, Name: "Croissant", Price: decimal.RequireFromString("8.00")}, 1)
	st.AddProductWithoutStock(models.Product{ID: 10, Name: "Gift card"})
	return st
}
