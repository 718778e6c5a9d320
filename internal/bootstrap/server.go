package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// addServerRunningJob adds the HTTP server running job. A listen failure
// is returned from the job so the manager shuts the process down.
func addServerRunningJob(m *graceful.Manager, srv *http.Server, logger *zap.Logger) {
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			logger.Error("http server failed", zap.Error(err))
			return err
		case <-ctx.Done():
			return nil
		}
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(
	m *graceful.Manager,
	srv *http.Server,
	timeout time.Duration,
	logger *zap.Logger,
) {
	m.AddShutdownJob(func() error {
		logger.Info("shutting down http server")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http server forced to shutdown", zap.Error(err))
			return err
		}
		logger.Info("http server exited")
		return nil
	})
}

// addRedisClientShutdownJob adds Redis client shutdown handler
func addRedisClientShutdownJob(m *graceful.Manager, redisClient *redis.Client, logger *zap.Logger) {
	if redisClient == nil {
		return
	}

	m.AddShutdownJob(func() error {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing redis client", zap.Error(err))
			return err
		}
		logger.Info("redis connection closed")
		return nil
	})
}

// addAuditServiceShutdownJob flushes queued audit entries on shutdown
func addAuditServiceShutdownJob(
	m *graceful.Manager,
	auditService *services.AuditService,
	timeout time.Duration,
	logger *zap.Logger,
) {
	m.AddShutdownJob(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := auditService.Shutdown(ctx); err != nil {
			logger.Error("error shutting down audit service", zap.Error(err))
			return err
		}
		return nil
	})
}

// addAuditLogCleanupJob adds periodic audit log cleanup job
func addAuditLogCleanupJob(
	m *graceful.Manager,
	cfg *config.Config,
	auditService *services.AuditService,
	logger *zap.Logger,
) {
	if !cfg.EnableAuditLogging || cfg.AuditLogRetention <= 0 {
		return
	}

	cleanup := func(ctx context.Context) {
		deleted, err := auditService.CleanupOldLogs(ctx, cfg.AuditLogRetention)
		switch {
		case err != nil:
			logger.Error("failed to clean up old audit logs", zap.Error(err))
		case deleted > 0:
			logger.Info("cleaned up old audit logs", zap.Int64("deleted", deleted))
		}
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		// Run cleanup immediately on startup
		cleanup(ctx)
		for {
			select {
			case <-ticker.C:
				cleanup(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addMetricsGaugeUpdateJob adds periodic metrics gauge update job
func addMetricsGaugeUpdateJob(
	m *graceful.Manager,
	cfg *config.Config,
	store core.MetricsStore,
	recorder metrics.Recorder,
	metricsCache core.Cache[int64],
	logger *zap.Logger,
) {
	if !cfg.MetricsEnabled || !cfg.MetricsGaugeUpdateEnabled || metricsCache == nil {
		return
	}

	m.AddRunningJob(func(ctx context.Context) error {
		ticker := time.NewTicker(cfg.MetricsGaugeUpdateInterval)
		defer ticker.Stop()

		cacheWrapper := metrics.NewCacheWrapper(store, metricsCache)
		errLogger := newErrorLogger(logger)

		// Update immediately on startup
		updateGaugeMetricsWithCache(ctx, cacheWrapper, recorder, cfg.MetricsGaugeUpdateInterval, errLogger)
		for {
			select {
			case <-ticker.C:
				updateGaugeMetricsWithCache(ctx, cacheWrapper, recorder, cfg.MetricsGaugeUpdateInterval, errLogger)
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// addCacheCleanupJob closes caches on shutdown
func addCacheCleanupJob(
	m *graceful.Manager,
	clientCache core.Cache[models.OAuthClient],
	metricsCache core.Cache[int64],
	logger *zap.Logger,
) {
	m.AddShutdownJob(func() error {
		if clientCache != nil {
			if err := clientCache.Close(); err != nil {
				logger.Error("error closing client cache", zap.Error(err))
			}
		}
		if metricsCache != nil {
			if err := metricsCache.Close(); err != nil {
				logger.Error("error closing metrics cache", zap.Error(err))
			}
		}
		return nil
	})
}

// errorLogger rate-limits repeated gauge query failures.
type errorLogger struct {
	mu              sync.Mutex
	lastErrorTimes  map[string]time.Time
	rateLimitWindow time.Duration
	logger          *zap.Logger
}

func newErrorLogger(logger *zap.Logger) *errorLogger {
	return &errorLogger{
		lastErrorTimes:  make(map[string]time.Time),
		rateLimitWindow: 5 * time.Minute, // Log at most once per 5 minutes per operation
		logger:          logger,
	}
}

// logIfNeeded logs an error only if rate limit allows
func (e *errorLogger) logIfNeeded(operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	lastTime, exists := e.lastErrorTimes[operation]
	if !exists || now.Sub(lastTime) >= e.rateLimitWindow {
		e.logger.Warn("gauge query failed; further errors suppressed",
			zap.String("operation", operation),
			zap.Duration("suppressed_for", e.rateLimitWindow),
			zap.Error(err))
		e.lastErrorTimes[operation] = now
	}
}

// updateGaugeMetricsWithCache refreshes the active token gauges. The
// cache TTL matches the update interval so that several instances share
// one database query per interval.
func updateGaugeMetricsWithCache(
	ctx context.Context,
	cacheWrapper *metrics.CacheWrapper,
	recorder metrics.Recorder,
	cacheTTL time.Duration,
	errLogger *errorLogger,
) {
	for _, tokenType := range []string{models.TokenTypeAccess, models.TokenTypeRefresh} {
		count, err := cacheWrapper.GetActiveTokensCount(ctx, tokenType, cacheTTL)
		if err != nil {
			operation := "count_" + tokenType + "_tokens"
			recorder.RecordDatabaseQueryError(operation)
			errLogger.logIfNeeded(operation, err)
			continue
		}
		recorder.SetActiveTokensCount(tokenType, int(count))
	}
}
