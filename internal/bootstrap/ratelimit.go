package bootstrap

import (
	"fmt"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rateLimitMiddlewares holds rate limiting middlewares for different endpoints
type rateLimitMiddlewares struct {
	token     gin.HandlerFunc
	revoke    gin.HandlerFunc
	authorize gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration.
// redisClient is only used with the redis store.
func setupRateLimiting(
	cfg *config.Config,
	auditService *services.AuditService,
	redisClient *redis.Client,
	logger *zap.Logger,
) (rateLimitMiddlewares, error) {
	if !cfg.EnableRateLimit {
		noOpMiddleware := func(c *gin.Context) { c.Next() }
		return rateLimitMiddlewares{
			token:     noOpMiddleware,
			revoke:    noOpMiddleware,
			authorize: noOpMiddleware,
		}, nil
	}

	storeType := middleware.RateLimitStoreType(cfg.RateLimitStore)
	logger.Info("rate limiting enabled", zap.String("store", cfg.RateLimitStore))

	var firstErr error
	createLimiter := func(name string, requestsPerMinute int) gin.HandlerFunc {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Name:              name,
			RequestsPerMinute: requestsPerMinute,
			StoreType:         storeType,
			RedisClient:       redisClient,
			CleanupInterval:   cfg.RateLimitCleanupInterval,
			AuditService:      auditService,
			Logger:            logger,
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to create rate limiter for %s: %w", name, err)
		}
		return limiter
	}

	limiters := rateLimitMiddlewares{
		token:     createLimiter("token", cfg.TokenRateLimit),
		revoke:    createLimiter("revoke", cfg.RevokeRateLimit),
		authorize: createLimiter("authorize", cfg.AuthorizeRateLimit),
	}
	if firstErr != nil {
		return rateLimitMiddlewares{}, firstErr
	}
	return limiters, nil
}
