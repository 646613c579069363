package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/set_stock.lua
var setStockScript string

const (
	stockTTL = time.Hour

	// pendingOrder marks an idempotency key whose order is still being placed.
	pendingOrder = "pending"
)

type Client struct {
	rdb         *redis.Client
	stockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:         rdb,
		stockScript: redis.NewScript(setStockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}

// CacheStock stores the amount a committed stock mutation left behind. It
// reports false when the cache already holds the same or a newer version.
func (c *Client) CacheStock(ctx context.Context, productID int64, amount int, version int64) (bool, error) {
	result, err := c.stockScript.Run(ctx, c.rdb,
		[]string{stockKey(productID)}, amount, version, int(stockTTL.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("set stock script failed: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return written == 1, nil
}

// ClaimIdempotencyKey marks key as in progress. When the key is already
// taken it returns claimed=false and the order ID stored for it, or 0 while
// the first request is still running.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (claimed bool, orderID int64, err error) {
	claimed, err = c.rdb.SetNX(ctx, idempotencyKey(key), pendingOrder, ttl).Result()
	if err != nil || claimed {
		return claimed, 0, err
	}

	raw, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in progress.
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if raw == pendingOrder {
		return false, 0, nil
	}

	orderID, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("corrupt idempotency value for %q: %w", key, err)
	}
	return false, orderID, nil
}

// CompleteIdempotencyKey records the order created for key.
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// ReleaseIdempotencyKey forgets key so a failed request can be retried.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}
