// Package cache wraps an optional go-redis client behind a single
// generic getOrSet helper (§5): when no client is configured, getOrSet
// reduces to calling fetch directly, so C5 never special-cases the
// absence of a cache.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrygo/relaywatch/internal/logging"
)

// Cache is the optional process-wide cache client. A nil *Cache (or one
// built with an empty DSN) makes GetOrSet a pass-through.
type Cache struct {
	client *redis.Client
	log    *logging.Logger
}

// New connects to dsn, or returns a Cache with no client if dsn is
// empty — the graceful-degradation pattern applied to caching (§5).
func New(dsn string, log *logging.Logger) (*Cache, error) {
	if dsn == "" {
		return &Cache{log: log}, nil
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &Cache{client: redis.NewClient(opts), log: log}, nil
}

// Close releases the underlying connection pool, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetOrSet returns the cached value for key if present and unexpired;
// otherwise it calls fetch, caches the result for ttl, and returns it.
// With no client configured it always calls fetch (§5's "reduces to the
// fetch function" contract).
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if c == nil || c.client == nil {
		return fetch()
	}

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var cached T
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
	}

	value, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	if encoded, err := json.Marshal(value); err == nil {
		if err := c.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
			c.log.Warn("cache: failed to write key", "key", key, "error", err.Error())
		}
	}
	return value, nil
}
