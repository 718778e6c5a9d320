package cache

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/core"

	"golang.org/x/sync/singleflight"
)

// getWithFetch collapses concurrent misses for the same key into a single
// fetchFunc call. A failed Set after a successful fetch is not an error:
// the caller still gets the fresh value.
func getWithFetch[T any](
	ctx context.Context,
	c core.Cache[T],
	sf *singleflight.Group,
	key string,
	ttl time.Duration,
	fetchFunc func(ctx context.Context, key string) (T, error),
) (T, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	v, err, _ := sf.Do(key, func() (any, error) {
		value, err := fetchFunc(ctx, key)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
