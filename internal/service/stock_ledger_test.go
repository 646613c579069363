package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"cafe-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndRelease(t *testing.T) {
	st := newSeededStore()
	events := &recordingPublisher{}
	ledger := NewStockLedger(st, nil, events)
	ctx := context.Background()

	left, err := ledger.Reserve(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	back, err := ledger.Release(ctx, 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, back)

	got := events.stockEvents()
	require.Len(t, got, 2)
	assert.Equal(t, models.EventTypeStockReserved, got[0].EventType)
	assert.Equal(t, -3, got[0].Delta)
	assert.Equal(t, models.EventTypeStockReleased, got[1].EventType)
	assert.Greater(t, got[1].Version, got[0].Version)
}

func TestReserveRejections(t *testing.T) {
	ledger := NewStockLedger(newSeededStore(), nil, nil)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 7, 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = ledger.Reserve(ctx, 7, -2)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = ledger.Reserve(ctx, 7, 6)
	assert.ErrorIs(t, err, models.ErrOutOfStock)

	_, err = ledger.Reserve(ctx, 10, 1)
	assert.ErrorIs(t, err, models.ErrOutOfStock)

	amount, err := ledger.AvailableQuantity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, amount)
}

func TestAvailableQuantity(t *testing.T) {
	ctx := context.Background()

	ledger := NewStockLedger(newSeededStore(), nil, nil)
	_, err := ledger.AvailableQuantity(ctx, 10)
	assert.ErrorIs(t, err, models.ErrNotFound)

	amount, err := ledger.AvailableQuantity(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, amount)
}

func TestAvailableQuantitySeesCommittedReservation(t *testing.T) {
	st := newSeededStore()
	cache := newFakeCache(map[int64]int{7: 5})
	events := &recordingPublisher{err: errors.New("kafka: leader not available")}
	ledger := NewStockLedger(st, cache, events)
	cart := NewCartService(st, ledger)
	ctx := context.Background()

	_, err := cart.AddItem(ctx, 1, 7, 3)
	require.NoError(t, err)

	amount, err := ledger.AvailableQuantity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, amount)

	cached, version := cache.cached(7)
	assert.Equal(t, 2, cached)
	assert.Equal(t, int64(1), version)
}

func TestCacheFailureDoesNotFailMutation(t *testing.T) {
	cache := newFakeCache(nil)
	cache.err = errors.New("redis down")
	ledger := NewStockLedger(newSeededStore(), cache, nil)
	ctx := context.Background()

	left, err := ledger.Reserve(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, left)

	amount, err := ledger.AvailableQuantity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, amount)
}

func TestCacheKeepsNewestVersion(t *testing.T) {
	cache := newFakeCache(nil)
	ledger := NewStockLedger(newSeededStore(), cache, nil)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 7, 1)
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, 7, 1)
	require.NoError(t, err)

	written, err := cache.CacheStock(ctx, 7, 4, 1)
	require.NoError(t, err)
	assert.False(t, written)

	cached, version := cache.cached(7)
	assert.Equal(t, 3, cached)
	assert.Equal(t, int64(2), version)
}

func TestQuantityLimits(t *testing.T) {
	ledger := NewStockLedger(newSeededStore(), nil, nil)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 7, models.MaxQuantity+1)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = ledger.Release(ctx, 7, models.MaxQuantity+1)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = ledger.SetAmount(ctx, 7, models.MaxQuantity+1)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = ledger.SetAmount(ctx, 7, models.MaxQuantity)
	require.NoError(t, err)

	_, err = ledger.Release(ctx, 7, 1)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	amount, err := ledger.AvailableQuantity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.MaxQuantity, amount)
}

func TestSetAmount(t *testing.T) {
	events := &recordingPublisher{}
	ledger := NewStockLedger(newSeededStore(), nil, events)
	ctx := context.Background()

	entry, err := ledger.SetAmount(ctx, 8, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, entry.Amount)

	_, err = ledger.SetAmount(ctx, 8, -1)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = ledger.SetAmount(ctx, 10, 3)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got := events.stockEvents()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTypeStockAdjusted, got[0].EventType)
}

func TestStockNeverNegativeUnderRandomOperations(t *testing.T) {
	ledger := NewStockLedger(newSeededStore(), nil, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	expected := 5
	for i := 0; i < 500; i++ {
		qty := rng.Intn(4) + 1
		if rng.Intn(2) == 0 {
			left, err := ledger.Reserve(ctx, 7, qty)
			if qty > expected {
				require.ErrorIs(t, err, models.ErrOutOfStock)
				continue
			}
			require.NoError(t, err)
			expected -= qty
			require.Equal(t, expected, left)
		} else {
			back, err := ledger.Release(ctx, 7, qty)
			require.NoError(t, err)
			expected += qty
			require.Equal(t, expected, back)
		}

		amount, err := ledger.AvailableQuantity(ctx, 7)
		require.NoError(t, err)
		require.GreaterOrEqual(t, amount, 0)
	}
}

func TestPublishFailureDoesNotUndoMutation(t *testing.T) {
	events := &recordingPublisher{err: errors.New("kafka unavailable")}
	ledger := NewStockLedger(newSeededStore(), nil, events)
	ctx := context.Background()

	left, err := ledger.Reserve(ctx, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, left)

	amount, err := ledger.AvailableQuantity(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, amount)
}
