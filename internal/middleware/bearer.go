package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-gonic/gin"
)

// ContextAccessToken is the gin key under which RequireAccessToken stores
// the validated *models.AccessToken.
const ContextAccessToken = "access_token"

// TokenValidator resolves a raw bearer token to its active record.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*models.AccessToken, error)
}

// RequireAccessToken authenticates resource requests with an opaque bearer
// access token (RFC 6750).
func RequireAccessToken(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", `Bearer realm="oauth"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             services.ErrInvalidToken.Error(),
				"error_description": "Bearer token required.",
			})
			return
		}

		tok, err := validator.ValidateAccessToken(c.Request.Context(), raw)
		if err != nil {
			if services.OAuthErrorCode(err) == "" {
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "server_error",
				})
				return
			}
			desc := services.ErrorDescription(err)
			c.Header("WWW-Authenticate",
				fmt.Sprintf(`Bearer realm="oauth", error="invalid_token", error_description=%q`, desc))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             services.ErrInvalidToken.Error(),
				"error_description": desc,
			})
			return
		}

		c.Set(ContextAccessToken, tok)
		c.Set(SessionUserID, tok.UserID)
		c.Request = c.Request.WithContext(util.SetUserIDContext(c.Request.Context(), tok.UserID))
		c.Next()
	}
}

// GetAccessToken returns the token stored by RequireAccessToken.
func GetAccessToken(c *gin.Context) (*models.AccessToken, bool) {
	v, ok := c.Get(ContextAccessToken)
	if !ok {
		return nil, false
	}
	tok, ok := v.(*models.AccessToken)
	return tok, ok
}

// bearerToken extracts the credential of an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
