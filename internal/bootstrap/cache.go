package bootstrap

import (
	"time"

	"github.com/go-authgate/oauthcore/internal/cache"
	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	memoryCacheCleanupInterval = 10 * time.Minute

	clientCacheKeyPrefix  = "oauthcore:clients:"
	metricsCacheKeyPrefix = "oauthcore:metrics:"
)

// initializeMetrics initializes Prometheus metrics
func initializeMetrics(cfg *config.Config, logger *zap.Logger) metrics.Recorder {
	recorder := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		logger.Info("prometheus metrics initialized")
	} else {
		logger.Info("metrics disabled (using noop implementation)")
	}
	return recorder
}

// initializeMetricsCache returns the cache in front of the gauge queries,
// or nil when the gauge job is not running.
func initializeMetricsCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) core.Cache[int64] {
	if !cfg.MetricsEnabled || !cfg.MetricsGaugeUpdateEnabled {
		return nil
	}

	if cfg.MetricsCacheType == config.CacheTypeRedis && redisClient != nil {
		logger.Info("metrics cache: redis", zap.String("addr", cfg.RedisAddr))
		return cache.NewRedisCacheWithClient[int64](redisClient, metricsCacheKeyPrefix)
	}

	logger.Info("metrics cache: memory (single instance only)")
	return cache.NewMemoryCache[int64](memoryCacheCleanupInterval)
}

// initializeClientCache returns the cache in front of client lookups.
// The client registry is read on every token request, so a cache is
// always configured.
func initializeClientCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) core.Cache[models.OAuthClient] {
	if cfg.ClientCacheType == config.CacheTypeRedis && redisClient != nil {
		logger.Info("client cache: redis",
			zap.String("addr", cfg.RedisAddr),
			zap.Duration("ttl", cfg.ClientCacheTTL))
		return cache.NewRedisCacheWithClient[models.OAuthClient](redisClient, clientCacheKeyPrefix)
	}

	logger.Info("client cache: memory (single instance only)",
		zap.Duration("ttl", cfg.ClientCacheTTL))
	return cache.NewMemoryCache[models.OAuthClient](memoryCacheCleanupInterval)
}
