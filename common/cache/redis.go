package cache

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/minutes/common/redis"
)

// KVStore is the subset of the redis client the cache needs.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache shares entries across replicas. Connection lifetime belongs to
// the caller, so Close is a no-op.
type RedisCache struct {
	store KVStore
}

// NewRedisCache wraps store.
func NewRedisCache(store KVStore) *RedisCache {
	return &RedisCache{store: store}
}

// Get returns ok=false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.store.Get(ctx, key)
	if errors.Is(err, redis.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

// Set stores value for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.SetWithExpiry(ctx, key, string(value), ttl)
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Close implements Cache.
func (c *RedisCache) Close() error { return nil }
