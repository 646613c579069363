package service

import (
	"context"
	"time"

	"cafe-service/internal/models"
)

// StockCache mirrors committed stock amounts for readers outside this
// service. It is written after every commit and never read back here.
// *redisclient.Client implements it.
type StockCache interface {
	CacheStock(ctx context.Context, productID int64, amount int, version int64) (bool, error)
}

// IdempotencyStore marks Idempotency-Keys whose order is being placed and
// remembers which order they produced. *redisclient.Client implements it.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (claimed bool, orderID int64, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// EventPublisher publishes events after commit. *broker.EventPublisher
// implements it.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishStockChanged(context.Context, *models.StockChangedEvent) error { return nil }
func (nopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error   { return nil }

// followUpTimeout bounds the writes that run after a commit.
const followUpTimeout = 2 * time.Second

// detach drops ctx's deadline and cancellation but keeps its values, so work
// that must follow a commit still runs when the request has timed out.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
}
