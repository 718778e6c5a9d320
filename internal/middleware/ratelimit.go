package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterRedis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimitStoreType defines the type of rate limit store
type RateLimitStoreType string

const (
	// RateLimitStoreMemory keeps counters in process (single instance only).
	RateLimitStoreMemory RateLimitStoreType = "memory"
	// RateLimitStoreRedis shares counters between instances.
	RateLimitStoreRedis RateLimitStoreType = "redis"
)

var errRedisClientRequired = errors.New("redis rate limit store requires a redis client")

// RateLimitConfig configures one per-IP limiter.
type RateLimitConfig struct {
	// Name separates the counters of different endpoints in a shared store.
	Name              string
	RequestsPerMinute int
	CleanupInterval   time.Duration

	StoreType   RateLimitStoreType
	RedisClient *redis.Client // required for RateLimitStoreRedis

	AuditService *services.AuditService
	Logger       *zap.Logger
}

// NewRateLimiter returns a gin middleware limiting requests per client IP.
// Rejected requests get 429 with error=rate_limit_exceeded.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	rate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(cfg.RequestsPerMinute),
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := limiter.StoreOptions{
		Prefix:          "ratelimit:" + cfg.Name,
		CleanUpInterval: cfg.CleanupInterval,
	}

	var store limiter.Store
	switch cfg.StoreType {
	case RateLimitStoreRedis:
		if cfg.RedisClient == nil {
			return nil, errRedisClientRequired
		}
		var err error
		store, err = limiterRedis.NewStoreWithOptions(cfg.RedisClient, opts)
		if err != nil {
			return nil, err
		}
	default:
		store = memory.NewStoreWithOptions(opts)
	}

	instance := limiter.New(store, rate)

	return mgin.NewMiddleware(instance, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		logger.Warn("rate limit exceeded",
			zap.String("limiter", cfg.Name),
			zap.String("client_ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path))

		cfg.AuditService.Log(c.Request.Context(), rateLimitAuditEntry(c, cfg.Name))

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate_limit_exceeded",
			"error_description": "Too many requests. Please try again later.",
		})
	})), nil
}

func rateLimitAuditEntry(c *gin.Context, name string) services.AuditLogEntry {
	return services.AuditLogEntry{
		EventType:     models.EventRateLimitExceeded,
		Severity:      models.SeverityWarning,
		ActorIP:       c.ClientIP(),
		Action:        "Rate limit exceeded",
		Details:       models.AuditDetails{"limiter": name},
		Success:       false,
		UserAgent:     c.Request.UserAgent(),
		RequestPath:   c.Request.URL.Path,
		RequestMethod: c.Request.Method,
	}
}
