package metrics

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/core"
)

// CacheWrapper fronts the active-token count queries with a cache so that
// multiple replicas refreshing gauges do not each hit the database.
type CacheWrapper struct {
	store core.MetricsStore
	cache core.Cache[int64]
}

func NewCacheWrapper(store core.MetricsStore, cache core.Cache[int64]) *CacheWrapper {
	return &CacheWrapper{
		store: store,
		cache: cache,
	}
}

// GetActiveTokensCount returns the number of active tokens of tokenType,
// served from cache for up to ttl.
func (m *CacheWrapper) GetActiveTokensCount(
	ctx context.Context,
	tokenType string,
	ttl time.Duration,
) (int64, error) {
	return m.cache.GetWithFetch(
		ctx,
		"tokens:"+tokenType,
		ttl,
		func(ctx context.Context, _ string) (int64, error) {
			return m.store.CountActiveTokens(ctx, tokenType)
		},
	)
}
