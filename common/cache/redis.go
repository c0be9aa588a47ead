package cache

import (
	"context"
	"time"

	commonredis "github.com/lyzr/agentflow/common/redis"
)

// RedisCache backs the Cache interface with Redis so status records
// written by one runner are visible to pollers on any API replica.
// Values are stored as plain strings with Redis-side expiry.
type RedisCache struct {
	client *commonredis.Client
}

// NewRedisCache wraps an existing Redis client. The caller owns the
// underlying connection; Close here is a no-op.
func NewRedisCache(client *commonredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value for key, or a miss when absent or expired
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := c.client.TryGet(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Set stores value under key with ttl
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, string(value), ttl)
}

// Delete removes key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Delete(ctx, key)
}

// Close is a no-op; the shared Redis connection is closed by its owner
func (c *RedisCache) Close() error { return nil }

// Stats reports backend type for health endpoints
func (c *RedisCache) Stats() map[string]interface{} {
	return map[string]interface{}{"type": "redis"}
}
