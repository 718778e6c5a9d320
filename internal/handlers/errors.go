package handlers

import (
	"errors"
	"net/http"

	"github.com/go-authgate/oauthcore/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errServerError is the wire code for failures the client cannot act on.
const errServerError = "server_error"

// oauthErrorStatus maps an OAuth error code onto its HTTP status
// (RFC 6749 section 5.2, RFC 6750 section 3.1).
func oauthErrorStatus(code string) int {
	switch code {
	case services.ErrInvalidClient.Error(), services.ErrInvalidToken.Error():
		return http.StatusUnauthorized
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeOAuthError renders err as an OAuth error body. Errors that carry no
// OAuth code are logged and reported as server_error without detail.
func writeOAuthError(c *gin.Context, logger *zap.Logger, err error) {
	code := services.OAuthErrorCode(err)
	if code == "" {
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             errServerError,
			"error_description": "An internal error occurred.",
		})
		return
	}

	status := oauthErrorStatus(code)
	if errors.Is(err, services.ErrInvalidClient) {
		c.Header("WWW-Authenticate", `Basic realm="oauth"`)
	}

	body := gin.H{"error": code}
	if desc := services.ErrorDescription(err); desc != "" {
		body["error_description"] = desc
	}
	c.JSON(status, body)
}

// writeAPIError renders a plain admin API error.
func writeAPIError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
