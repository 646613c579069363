package service

import (
	"context"
	"errors"
	"fmt"

	"cafe-service/internal/broker"
	"cafe-service/internal/models"
	"cafe-service/internal/store"
	"cafe-service/internal/util"

	"go.uber.org/zap"
)

// StockLedger owns every change to stock amounts. The amount of a product
// never drops below zero.
type StockLedger struct {
	store  store.TxStore
	cache  StockCache
	events EventPublisher
	logger *zap.Logger
}

// NewStockLedger creates a ledger. cache and events may be nil.
func NewStockLedger(st store.TxStore, cache StockCache, events EventPublisher) *StockLedger {
	if events == nil {
		events = nopPublisher{}
	}
	return &StockLedger{
		store:  st,
		cache:  cache,
		events: events,
		logger: util.GetLogger(),
	}
}

func (l *StockLedger) log(ctx context.Context) *zap.Logger {
	return util.LoggerFrom(ctx, l.logger)
}

// Reserve takes quantity units out of stock and returns what is left.
func (l *StockLedger) Reserve(ctx context.Context, productID int64, quantity int) (left int, err error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Reserve", util.ProductAttr(productID))
	defer util.EndSpan(span, &err)

	var entry *models.StockEntry
	err = l.store.WithTx(ctx, func(repo store.Repository) error {
		var err error
		entry, err = l.reserve(ctx, repo, productID, quantity)
		return err
	})
	if err != nil {
		return 0, l.fail(ctx, "reserve stock", err, util.ProductID(productID))
	}

	l.committed(ctx, models.EventTypeStockReserved, entry, -quantity, 0)
	return entry.Amount, nil
}

// Release puts quantity units back and returns the new amount. It does not
// check that the units were ever reserved.
func (l *StockLedger) Release(ctx context.Context, productID int64, quantity int) (amount int, err error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Release", util.ProductAttr(productID))
	defer util.EndSpan(span, &err)

	var entry *models.StockEntry
	err = l.store.WithTx(ctx, func(repo store.Repository) error {
		var err error
		entry, err = l.release(ctx, repo, productID, quantity)
		return err
	})
	if err != nil {
		return 0, l.fail(ctx, "release stock", err, util.ProductID(productID))
	}

	l.committed(ctx, models.EventTypeStockReleased, entry, quantity, 0)
	return entry.Amount, nil
}

// AvailableQuantity returns the committed amount. It always reads the store;
// the cache is only a mirror for other readers.
func (l *StockLedger) AvailableQuantity(ctx context.Context, productID int64) (amount int, err error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.AvailableQuantity", util.ProductAttr(productID))
	defer util.EndSpan(span, &err)

	entry, err := l.store.GetStock(ctx, productID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, fmt.Errorf("stock for product %d: %w", productID, err)
	}
	if err != nil {
		return 0, err
	}
	return entry.Amount, nil
}

// SetAmount is the administrative override. It bypasses reserve/release and
// writes amount as is.
func (l *StockLedger) SetAmount(ctx context.Context, productID int64, amount int) (entry *models.StockEntry, err error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.SetAmount", util.ProductAttr(productID))
	defer util.EndSpan(span, &err)

	if amount < 0 || amount > models.MaxQuantity {
		return nil, models.ErrInvalidAmount
	}

	entry, err = l.store.SetStock(ctx, productID, amount)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("stock for product %d: %w", productID, err)
	}
	if err != nil {
		return nil, l.fail(ctx, "set stock", err, util.ProductID(productID))
	}

	util.StockAdjustmentsTotal.Inc()
	l.log(ctx).Info("Stock adjusted",
		util.ProductID(productID),
		zap.Int("amount", entry.Amount))

	l.committed(ctx, models.EventTypeStockAdjusted, entry, 0, 0)
	return entry, nil
}

func validQuantity(quantity int) bool {
	return quantity > 0 && quantity <= models.MaxQuantity
}

// reserve runs inside the caller's transaction.
func (l *StockLedger) reserve(ctx context.Context, repo store.Repository, productID int64, quantity int) (*models.StockEntry, error) {
	if !validQuantity(quantity) {
		return nil, models.ErrInvalidQuantity
	}

	entry, err := repo.DecrementStock(ctx, productID, quantity)
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInsufficientStock):
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrOutOfStock)
	case err != nil:
		return nil, models.TxFailure("decrement stock", err)
	}
	return entry, nil
}

// release runs inside the caller's transaction. The row is locked first so
// the new amount can be checked against MaxQuantity before it is written.
func (l *StockLedger) release(ctx context.Context, repo store.Repository, productID int64, quantity int) (*models.StockEntry, error) {
	if !validQuantity(quantity) {
		return nil, models.ErrInvalidQuantity
	}

	current, err := repo.LockStock(ctx, productID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("stock for product %d: %w", productID, err)
	}
	if err != nil {
		return nil, models.TxFailure("lock stock", err)
	}
	if current.Amount > models.MaxQuantity-quantity {
		return nil, fmt.Errorf("product %d: releasing %d onto %d: %w",
			productID, quantity, current.Amount, models.ErrInvalidQuantity)
	}

	entry, err := repo.IncrementStock(ctx, productID, quantity)
	if err != nil {
		return nil, models.TxFailure("increment stock", err)
	}
	return entry, nil
}

// fail logs unexpected errors. Validation and not-found errors pass through
// untouched; everything else becomes a transaction failure.
func (l *StockLedger) fail(ctx context.Context, op string, err error, fields ...zap.Field) error {
	if models.IsValidation(err) || (errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrTransactionFailure)) {
		return err
	}
	err = models.TxFailure(op, err)
	l.log(ctx).Error("Stock operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return err
}

// committed mirrors a committed mutation into the cache and publishes it.
// Neither step can undo the mutation; failures are logged.
func (l *StockLedger) committed(ctx context.Context, eventType string, entry *models.StockEntry, delta int, cartItemID int64) {
	ctx, cancel := detach(ctx)
	defer cancel()

	l.mirror(ctx, entry)

	event := &models.StockChangedEvent{
		BaseEvent:  broker.NewBaseEvent(eventType),
		ProductID:  entry.ProductID,
		Delta:      delta,
		Amount:     entry.Amount,
		Version:    entry.Version,
		CartItemID: cartItemID,
	}
	if err := l.events.PublishStockChanged(ctx, event); err != nil {
		l.log(ctx).Error("Failed to publish stock event",
			zap.String("type", eventType),
			util.ProductID(entry.ProductID),
			zap.Error(err))
	}
}

// mirror writes the committed amount to the cache. The cache keeps the
// highest version it has seen, so concurrent writers cannot regress it.
func (l *StockLedger) mirror(ctx context.Context, entry *models.StockEntry) {
	if l.cache == nil {
		return
	}

	written, err := l.cache.CacheStock(ctx, entry.ProductID, entry.Amount, entry.Version)
	switch {
	case err != nil:
		util.StockCacheUpdatesTotal.WithLabelValues("error").Inc()
		l.log(ctx).Warn("Failed to mirror stock amount",
			util.ProductID(entry.ProductID),
			zap.Int64("version", entry.Version),
			zap.Error(err))
	case written:
		util.StockCacheUpdatesTotal.WithLabelValues("written").Inc()
	default:
		util.StockCacheUpdatesTotal.WithLabelValues("stale").Inc()
	}
}
