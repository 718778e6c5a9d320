package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-authgate/oauthcore/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// needsRedis reports whether any component is configured to use Redis.
func needsRedis(cfg *config.Config) bool {
	return (cfg.EnableRateLimit && cfg.RateLimitStore == config.RateLimitStoreRedis) ||
		cfg.ClientCacheType == config.CacheTypeRedis ||
		(cfg.MetricsEnabled && cfg.MetricsGaugeUpdateEnabled &&
			cfg.MetricsCacheType == config.CacheTypeRedis)
}

// initializeRedisClient creates the go-redis client shared by the rate
// limiter and the Redis-backed caches. Returns nil when nothing uses Redis.
// ulule/limiter depends on go-redis types, so the shared client is go-redis.
func initializeRedisClient(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (*redis.Client, error) {
	if !needsRedis(cfg) {
		return nil, nil //nolint:nilnil // redis client not needed in this configuration
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.RedisConnTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB))
	return client, nil
}
