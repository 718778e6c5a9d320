package middleware

import (
	"net/http"

	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	csrfTokenKey    = "csrf_token"
	csrfFormField   = "csrf_token"
	csrfHeaderField = "X-CSRF-Token"
)

// CSRFMiddleware protects state-changing requests authenticated by the
// session cookie. Requests authenticated by trusted proxy headers carry no
// ambient credential and are passed through. Must run after RequireUser.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(contextTrustedAuth) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		token, _ := session.Get(csrfTokenKey).(string)
		if token == "" {
			var err error
			token, err = util.CryptoRandomURLSafe(32)
			if err != nil {
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "server_error",
				})
				return
			}
			session.Set(csrfTokenKey, token)
			if err := session.Save(); err != nil {
				_ = c.Error(err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "server_error",
				})
				return
			}
		}
		c.Set(csrfTokenKey, token)

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			submitted := c.GetHeader(csrfHeaderField)
			if submitted == "" {
				submitted = c.PostForm(csrfFormField)
			}
			if submitted == "" || !credential.ConstantTimeEquals(submitted, token) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":             "invalid_request",
					"error_description": "CSRF token validation failed.",
				})
				return
			}
		}

		c.Next()
	}
}

// GetCSRFToken returns the token the consent UI must echo back, or "" for
// header-authenticated requests.
func GetCSRFToken(c *gin.Context) string {
	return c.GetString(csrfTokenKey)
}
