package driven

import (
	"context"
	"time"
)

// Cache is a shared byte cache (Redis). Callers treat every error as a
// miss; the cache is never a correctness dependency.
type Cache interface {
	// Get returns the cached value, or ErrNotFound on a miss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key; missing keys are not an error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key under a prefix and returns how many
	// were deleted. Used for explicit course-level invalidation.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Ping checks if the cache backend is healthy
	Ping(ctx context.Context) error
}
