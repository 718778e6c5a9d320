package core

import (
	"context"
	"time"
)

// Cache is a typed key-value cache with per-entry TTL.
// Get returns cache.ErrCacheMiss when the key is absent or expired.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
	Health(ctx context.Context) error

	// GetWithFetch is cache-aside: on a miss fetchFunc runs once per key
	// across concurrent callers and its result is stored with ttl.
	GetWithFetch(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fetchFunc func(ctx context.Context, key string) (T, error),
	) (T, error)
}
