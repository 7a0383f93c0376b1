package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
	"github.com/redis/go-redis/v9"
)

// Verify interface compliance
var _ driven.Cache = (*Cache)(nil)

// cacheScanCount bounds how many keys each SCAN iteration inspects
const cacheScanCount = 200

// Cache implements driven.Cache using Redis with per-key TTLs.
// Callers treat errors as misses, so this adapter never needs to be
// wrapped in availability checks.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new Redis-backed cache
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached value, or ErrNotFound on a miss
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}
	return data, nil
}

// Set stores a value with a TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Delete removes a key; missing keys are not an error
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// DeletePrefix removes every key under a prefix using SCAN so large
// keyspaces are never blocked, and returns how many keys were deleted.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	pattern := prefix + "*"

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, cacheScanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan cache keys: %w", err)
		}

		if len(keys) > 0 {
			removed, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete cache keys: %w", err)
			}
			deleted += int(removed)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// Ping checks if the cache backend is healthy
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
