// Package cache stores JSON values in Redis with a fixed TTL.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a JSON cache. A nil *Cache is valid and never hits.
type Cache struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

func New(client redis.Cmdable, prefix string, ttl time.Duration) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{redis: client, prefix: prefix, ttl: ttl}
}

// Get decodes the cached value of key into out and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	val, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

// Set caches val under key. Failures are ignored; the cache is best effort.
func (c *Cache) Set(ctx context.Context, key string, val any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Delete evicts keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	_ = c.redis.Del(ctx, full...).Err()
}
