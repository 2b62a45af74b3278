package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Keys for the dashboard aggregates. The poll interval on the client is
// 30-60s, so a short TTL keeps the staleness window inside the accepted
// tradeoff.
const (
	KeyDecisionQueue   = "dashboard:decision_queue"
	KeyPortfolioRollup = "dashboard:portfolio_rollup"
)

// Cache is a small JSON read-through cache over redis. It is an
// optimization only: callers must treat every miss or redis failure as a
// fall-through to direct computation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a cache with the given TTL for all entries.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals the cached value into dest. The bool reports whether
// there was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is treated as a miss; the writer will replace it.
		return false, nil
	}
	return true, nil
}

// SetJSON stores v under key with the cache TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the given keys, e.g. after a lifecycle transition that
// changes the queue or the roll-up.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
