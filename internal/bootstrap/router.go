package bootstrap

import (
	"net/http"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const sessionCookieName = "oauthcore_session"

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(
	cfg *config.Config,
	db *store.Store,
	clientCache core.Cache[models.OAuthClient],
	h handlerSet,
	tokenService *services.TokenService,
	recorder metrics.Recorder,
	rateLimiters rateLimitMiddlewares,
	logger *zap.Logger,
) *gin.Engine {
	setupGinMode(cfg)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(util.IPMiddleware())
	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	setupSessionMiddleware(r, cfg)

	r.GET("/health", createHealthCheckHandler(db, clientCache))
	setupMetricsEndpoint(r, cfg, logger)
	setupAllRoutes(r, cfg, h, tokenService, rateLimiters)

	return r
}

// setupSessionMiddleware configures the cookie session read by RequireUser.
// The session is written by the login front end that shares SESSION_SECRET.
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config) {
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionCookieName, sessionStore))
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	switch {
	case !cfg.MetricsEnabled:
		logger.Info("prometheus metrics endpoint disabled")
	case cfg.MetricsToken != "":
		logger.Info("prometheus metrics enabled at /metrics with bearer token authentication")
		r.GET(
			"/metrics",
			middleware.MetricsAuthMiddleware(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		logger.Info("prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// setupAllRoutes configures all application routes
func setupAllRoutes(
	r *gin.Engine,
	cfg *config.Config,
	h handlerSet,
	tokenService *services.TokenService,
	rateLimiters rateLimitMiddlewares,
) {
	oauth := r.Group("/oauth2")
	{
		oauth.POST("/token", rateLimiters.token, h.token.Token)
		oauth.POST("/revoke", rateLimiters.revoke, h.token.Revoke)
		oauth.GET("/tokeninfo", middleware.RequireAccessToken(tokenService), h.token.TokenInfo)
	}

	// Authorization endpoint (interactive user, CSRF protected)
	authorize := r.Group("/oauth2/authorize")
	authorize.Use(
		rateLimiters.authorize,
		middleware.RequireUser(middleware.UserAuthConfig{
			TrustedUserHeader:   cfg.TrustedUserHeader,
			TrustedOrgHeader:    cfg.TrustedOrgHeader,
			TrustedScopesHeader: cfg.TrustedScopesHeader,
		}),
		middleware.CSRFMiddleware(),
	)
	{
		authorize.GET("", h.authorization.Describe)
		authorize.POST("", h.authorization.Decide)
	}

	// Admin API
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
	{
		admin.GET("/clients", h.client.ListClients)
		admin.POST("/clients", h.client.CreateClient)
		admin.GET("/clients/:client_id", h.client.GetClient)
		admin.PATCH("/clients/:client_id", h.client.UpdateClient)
		admin.DELETE("/clients/:client_id", h.client.RevokeClient)
		admin.POST("/clients/:client_id/rotate-secret", h.client.RotateSecret)
		admin.POST("/clients/:client_id/revoke-tokens", h.client.RevokeTokens)

		admin.GET("/audit", h.audit.ListAuditLogs)
		admin.GET("/audit/stats", h.audit.GetAuditLogStats)
		admin.GET("/audit/export", h.audit.ExportAuditLogs)
	}
}

// healthCheck godoc
//
//	@Summary		Health check
//	@Description	Check server, database and client cache health
//	@Tags			System
//	@Produce		json
//	@Success		200	{object}	object{status=string,database=string,cache=string}	"Service is healthy"
//	@Failure		503	{object}	object{status=string,database=string,cache=string}	"Service is unhealthy"
//	@Router			/health [get]
func createHealthCheckHandler(db *store.Store, clientCache core.Cache[models.OAuthClient]) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := http.StatusOK
		body := gin.H{
			"status":   "healthy",
			"database": "connected",
			"cache":    "ok",
		}

		if err := db.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "disconnected"
		}
		if clientCache != nil {
			if err := clientCache.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "unhealthy"
				body["cache"] = "unavailable"
			}
		}
		c.JSON(status, body)
	}
}

// setupGinMode sets Gin mode based on environment configuration
func setupGinMode(cfg *config.Config) {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
		return
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}
}
