package bootstrap

import (
	"fmt"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/permissions"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"

	"go.uber.org/zap"
)

// serviceSet holds the business services built on top of the store.
type serviceSet struct {
	audit         *services.AuditService
	clients       *services.ClientService
	authorization *services.AuthorizationService
	tokens        *services.TokenService
}

// initializeServices creates all business logic services
func initializeServices(
	cfg *config.Config,
	db *store.Store,
	clientCache core.Cache[models.OAuthClient],
	recorder metrics.Recorder,
	logger *zap.Logger,
) (serviceSet, error) {
	codec, err := credential.NewCodec(cfg.TokenHashSecret)
	if err != nil {
		return serviceSet{}, fmt.Errorf("failed to initialize credential codec: %w", err)
	}

	auditService := services.NewAuditService(
		db,
		logger,
		cfg.EnableAuditLogging,
		cfg.AuditLogBufferSize,
	)

	clientService := services.NewClientService(db, codec, services.ClientServiceOptions{
		Cache:        clientCache,
		CacheTTL:     cfg.ClientCacheTTL,
		Metrics:      recorder,
		AuditService: auditService,
		Logger:       logger,
		ScopeCatalog: cfg.ScopeCatalog,
		SecretCost:   cfg.ClientSecretCost,
	})

	permissionSource, err := initializePermissions(cfg, logger)
	if err != nil {
		return serviceSet{}, err
	}

	return serviceSet{
		audit:   auditService,
		clients: clientService,
		authorization: services.NewAuthorizationService(db, codec, clientService,
			services.AuthorizationServiceOptions{
				Permissions:  permissionSource,
				CodeTTL:      cfg.AuthorizationCodeExpiration,
				AuditService: auditService,
				Metrics:      recorder,
				Logger:       logger,
			}),
		tokens: services.NewTokenService(db, codec, clientService, services.TokenServiceOptions{
			AccessTokenTTL:  cfg.AccessTokenExpiration,
			RefreshTokenTTL: cfg.RefreshTokenExpiration,
			AuditService:    auditService,
			Metrics:         recorder,
			Logger:          logger,
		}),
	}, nil
}

// initializePermissions returns the source of the scopes a user may grant.
// Scopes asserted by the session or the trusted proxy win; the external
// API, when configured, answers for users they say nothing about.
func initializePermissions(cfg *config.Config, logger *zap.Logger) (services.PermissionSource, error) {
	if cfg.PermissionsAPIURL == "" {
		return services.ContextPermissions{}, nil
	}

	api, err := permissions.NewHTTPAPISource(permissions.Config{
		URL:           cfg.PermissionsAPIURL,
		AuthMode:      cfg.PermissionsAPIAuthMode,
		AuthSecret:    cfg.PermissionsAPISecret,
		AuthHeader:    cfg.PermissionsAPIAuthHeader,
		Timeout:       cfg.PermissionsAPITimeout,
		MaxRetries:    cfg.PermissionsAPIMaxRetries,
		RetryDelay:    cfg.PermissionsAPIRetryDelay,
		MaxRetryDelay: cfg.PermissionsAPIMaxRetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize permissions API: %w", err)
	}

	logger.Info("user permissions: session, then external API",
		zap.String("url", cfg.PermissionsAPIURL),
		zap.String("auth_mode", cfg.PermissionsAPIAuthMode))
	return permissions.Chain{services.ContextPermissions{}, api}, nil
}
