package middleware

import (
	"net/http"

	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-gonic/gin"
)

// AdminAPIKeyHeader carries the static key of the admin API.
const AdminAPIKeyHeader = "X-Admin-API-Key"

// adminActor is recorded as the acting user of admin API calls.
const adminActor = "admin-api"

// RequireAdminAPIKey guards the admin API. An empty key disables the API.
func RequireAdminAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "access_denied",
				"error_description": "The admin API is disabled.",
			})
			return
		}

		provided := c.GetHeader(AdminAPIKeyHeader)
		if provided == "" || !credential.ConstantTimeEquals(provided, key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "A valid admin API key is required.",
			})
			return
		}

		c.Set(SessionUserID, adminActor)
		c.Request = c.Request.WithContext(util.SetUserIDContext(c.Request.Context(), adminActor))
		c.Next()
	}
}
