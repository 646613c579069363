package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return NewFromRedis(rdb)
}

func TestCacheStockIgnoresOlderVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	productID := time.Now().UnixNano()
	t.Cleanup(func() { c.rdb.Del(ctx, stockKey(productID)) })

	_, err := c.rdb.HGet(ctx, stockKey(productID), "amount").Result()
	assert.ErrorIs(t, err, redis.Nil)

	written, err := c.CacheStock(ctx, productID, 2, 5)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = c.CacheStock(ctx, productID, 9, 4)
	require.NoError(t, err)
	assert.False(t, written)

	amount, err := c.rdb.HGet(ctx, stockKey(productID), "amount").Int()
	require.NoError(t, err)
	assert.Equal(t, 2, amount)
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.New().String()
	t.Cleanup(func() { c.rdb.Del(ctx, idempotencyKey(key)) })

	claimed, _, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, orderID, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Zero(t, orderID)

	require.NoError(t, c.CompleteIdempotencyKey(ctx, key, 77, time.Minute))

	claimed, orderID, err = c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(77), orderID)

	require.NoError(t, c.ReleaseIdempotencyKey(ctx, key))

	claimed, _, err = c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}
