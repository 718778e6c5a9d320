package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config
	Logger *zap.Logger

	// Core infrastructure
	DB           *store.Store
	Metrics      metrics.Recorder
	RedisClient  *redis.Client
	ClientCache  core.Cache[models.OAuthClient]
	MetricsCache core.Cache[int64]

	// Services
	AuditService         *services.AuditService
	ClientService        *services.ClientService
	AuthorizationService *services.AuthorizationService
	TokenService         *services.TokenService

	// HTTP
	handlers handlerSet
	Router   *gin.Engine
	Server   *http.Server
}

// New validates cfg and builds every component without starting anything
// that listens or runs in the background (the audit writer excepted).
// Callers own the result and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &Application{Config: cfg, Logger: logger}
	if err := app.initializeInfrastructure(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := app.initializeBusinessLayer(); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := app.initializeHTTPLayer(); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Run builds the application and serves until a termination signal.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.startWithGracefulShutdown()
	return nil
}

// initializeInfrastructure sets up database, metrics, Redis and caches
func (app *Application) initializeInfrastructure(ctx context.Context) error {
	var err error

	app.DB, err = initializeDatabase(ctx, app.Config)
	if err != nil {
		return err
	}
	app.Logger.Info("database initialized", zap.String("driver", app.Config.DatabaseDriver))

	app.Metrics = initializeMetrics(app.Config, app.Logger)

	app.RedisClient, err = initializeRedisClient(ctx, app.Config, app.Logger)
	if err != nil {
		return err
	}

	app.ClientCache = initializeClientCache(app.Config, app.RedisClient, app.Logger)
	app.MetricsCache = initializeMetricsCache(app.Config, app.RedisClient, app.Logger)
	return nil
}

// initializeBusinessLayer sets up services
func (app *Application) initializeBusinessLayer() error {
	svc, err := initializeServices(app.Config, app.DB, app.ClientCache, app.Metrics, app.Logger)
	if err != nil {
		return err
	}

	app.AuditService = svc.audit
	app.ClientService = svc.clients
	app.AuthorizationService = svc.authorization
	app.TokenService = svc.tokens
	app.handlers = initializeHandlers(app.Config, svc, app.Logger)
	return nil
}

// initializeHTTPLayer sets up rate limiters, router, and server
func (app *Application) initializeHTTPLayer() error {
	rateLimiters, err := setupRateLimiting(app.Config, app.AuditService, app.RedisClient, app.Logger)
	if err != nil {
		return err
	}

	app.Router = setupRouter(
		app.Config,
		app.DB,
		app.ClientCache,
		app.handlers,
		app.TokenService,
		app.Metrics,
		rateLimiters,
		app.Logger,
	)
	app.Server = createHTTPServer(app.Config, app.Router)
	return nil
}

// startWithGracefulShutdown starts the server and background jobs and
// blocks until they have all stopped.
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()
	cfg := app.Config

	addServerRunningJob(m, app.Server, app.Logger)
	addServerShutdownJob(m, app.Server, cfg.ServerShutdownTimeout, app.Logger)
	addAuditLogCleanupJob(m, cfg, app.AuditService, app.Logger)
	addMetricsGaugeUpdateJob(m, cfg, app.DB, app.Metrics, app.MetricsCache, app.Logger)
	addAuditServiceShutdownJob(m, app.AuditService, cfg.AuditShutdownTimeout, app.Logger)
	addCacheCleanupJob(m, app.ClientCache, app.MetricsCache, app.Logger)
	addRedisClientShutdownJob(m, app.RedisClient, app.Logger)

	<-m.Done()

	if err := app.DB.Close(); err != nil {
		app.Logger.Error("error closing database", zap.Error(err))
	}
}

// Close releases everything New acquired. It is used by one-shot commands
// and tests; the server path releases resources through its shutdown jobs.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	if app.AuditService != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, app.Config.AuditShutdownTimeout)
		errs = append(errs, app.AuditService.Shutdown(shutdownCtx))
		cancel()
	}
	if app.ClientCache != nil {
		errs = append(errs, app.ClientCache.Close())
	}
	if app.MetricsCache != nil {
		errs = append(errs, app.MetricsCache.Close())
	}
	if app.RedisClient != nil {
		errs = append(errs, app.RedisClient.Close())
	}
	if app.DB != nil {
		errs = append(errs, app.DB.Close())
	}
	return errors.Join(errs...)
}
