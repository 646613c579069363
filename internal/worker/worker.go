package worker

import (
	"context"
	"fmt"

	"cafe-service/internal/broker"
	"cafe-service/internal/models"
	"cafe-service/internal/store"
	"cafe-service/internal/util"

	"go.uber.org/zap"
)

// StockCacheWriter stores post-mutation amounts. *redisclient.Client
// implements it.
type StockCacheWriter interface {
	CacheStock(ctx context.Context, productID int64, amount int, version int64) (bool, error)
}

// MessageSource feeds messages to a handler until ctx ends. *broker.Consumer
// implements it.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// InventoryWorker keeps the stock cache in line with committed stock events
// and logs placed orders.
type InventoryWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	cache        StockCacheWriter
	events       store.EventLog
	logger       *zap.Logger
}

// NewInventoryWorker creates a new inventory worker
func NewInventoryWorker(source MessageSource, cache StockCacheWriter, events store.EventLog) *InventoryWorker {
	w := &InventoryWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		cache:        cache,
		events:       events,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnStockChanged(w.HandleStockChanged)
	w.eventHandler.OnOrderPlaced(w.HandleOrderPlaced)
	return w
}

// Start starts the worker
func (w *InventoryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting inventory worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *InventoryWorker) Stop() error {
	w.logger.Info("Stopping inventory worker")
	return w.source.Close()
}

// HandleStockChanged writes the event's amount into the cache. Redelivered
// events are skipped, and the cache itself refuses versions older than
// what it holds.
func (w *InventoryWorker) HandleStockChanged(ctx context.Context, event *models.StockChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "InventoryWorker.HandleStockChanged")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	written, err := w.cache.CacheStock(ctx, event.ProductID, event.Amount, event.Version)
	if err != nil {
		util.StockCacheUpdatesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to cache stock for product %d: %w", event.ProductID, err)
	}

	if written {
		util.StockCacheUpdatesTotal.WithLabelValues("written").Inc()
	} else {
		util.StockCacheUpdatesTotal.WithLabelValues("stale").Inc()
		w.logger.Debug("Stale stock event ignored",
			zap.Int64("product_id", event.ProductID),
			zap.Int64("version", event.Version))
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandleOrderPlaced records the placed order in the log.
func (w *InventoryWorker) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	w.logger.Info("Order receipt",
		zap.Int64("order_id", event.OrderID),
		zap.String("total", event.Total.StringFixed(2)),
		zap.Int("items", len(event.Items)))
	return nil
}
