package cache

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/core"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var _ core.Cache[struct{}] = (*MemoryCache[struct{}])(nil)

// MemoryCache is a process-local cache backed by go-cache.
// Suitable for single-instance deployments.
type MemoryCache[T any] struct {
	c  *gocache.Cache
	sf singleflight.Group
}

// NewMemoryCache creates a memory cache that sweeps expired entries every
// cleanupInterval.
func NewMemoryCache[T any](cleanupInterval time.Duration) *MemoryCache[T] {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryCache[T]{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryCache[T]) Get(_ context.Context, key string) (T, error) {
	var zero T
	v, ok := m.c.Get(key)
	if !ok {
		return zero, ErrCacheMiss
	}
	value, ok := v.(T)
	if !ok {
		return zero, ErrInvalidValue
	}
	return value, nil
}

func (m *MemoryCache[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache[T]) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Close drops every entry.
func (m *MemoryCache[T]) Close() error {
	m.c.Flush()
	return nil
}

func (m *MemoryCache[T]) Health(context.Context) error {
	return nil
}

func (m *MemoryCache[T]) GetWithFetch(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fetchFunc func(ctx context.Context, key string) (T, error),
) (T, error) {
	return getWithFetch(ctx, m, &m.sf, key, ttl, fetchFunc)
}
