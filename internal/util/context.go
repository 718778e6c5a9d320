package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	ipContextKey        contextKey = "client_ip"
	userIDContextKey    contextKey = "user_id"
	requestIDContextKey contextKey = "request_id"
	userScopesKey       contextKey = "user_scopes"
)

// IPMiddleware extracts client IP and stores it in the context
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() handles X-Forwarded-For and other headers
		c.Set(string(ipContextKey), c.ClientIP())
		c.Request = c.Request.WithContext(SetIPContext(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// SetIPContext returns a copy of ctx carrying the client IP. Empty IPs are ignored.
func SetIPContext(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ipContextKey, ip)
}

// GetIPFromContext extracts the client IP address from the context
func GetIPFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		return ginCtx.ClientIP()
	}
	if ip, ok := ctx.Value(ipContextKey).(string); ok {
		return ip
	}
	return ""
}

// SetUserIDContext returns a copy of ctx carrying the acting user ID.
func SetUserIDContext(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// GetUserIDFromContext returns the acting user ID, if any.
func GetUserIDFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if v, exists := ginCtx.Get(string(userIDContextKey)); exists {
			if s, ok := v.(string); ok {
				return s
			}
		}
		if ginCtx.Request == nil {
			return ""
		}
		ctx = ginCtx.Request.Context()
	}
	if s, ok := ctx.Value(userIDContextKey).(string); ok {
		return s
	}
	return ""
}

// SetRequestIDContext returns a copy of ctx carrying the request ID.
func SetRequestIDContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// GetRequestIDFromContext returns the request ID, if any.
func GetRequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDContextKey).(string); ok {
		return s
	}
	return ""
}

// SetUserScopesContext returns a copy of ctx carrying the scopes the acting
// user holds. A nil slice is stored as-is and means "no restriction known".
func SetUserScopesContext(ctx context.Context, scopes []string) context.Context {
	if scopes == nil {
		return ctx
	}
	return context.WithValue(ctx, userScopesKey, scopes)
}

// GetUserScopesFromContext returns the acting user's scopes and whether any
// were recorded.
func GetUserScopesFromContext(ctx context.Context) ([]string, bool) {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if ginCtx.Request == nil {
			return nil, false
		}
		ctx = ginCtx.Request.Context()
	}
	scopes, ok := ctx.Value(userScopesKey).([]string)
	return scopes, ok
}
