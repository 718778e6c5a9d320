package bootstrap

import (
	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/handlers"

	"go.uber.org/zap"
)

// handlerSet holds all HTTP handlers
type handlerSet struct {
	authorization *handlers.AuthorizationHandler
	token         *handlers.TokenHandler
	client        *handlers.ClientHandler
	audit         *handlers.AuditHandler
}

// initializeHandlers creates all HTTP handlers
func initializeHandlers(cfg *config.Config, svc serviceSet, logger *zap.Logger) handlerSet {
	return handlerSet{
		authorization: handlers.NewAuthorizationHandler(svc.authorization, logger),
		token:         handlers.NewTokenHandler(svc.tokens, cfg, logger),
		client:        handlers.NewClientHandler(svc.clients, logger),
		audit:         handlers.NewAuditHandler(svc.audit, logger),
	}
}
