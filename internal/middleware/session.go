package middleware

import (
	"net/http"
	"strings"

	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys written by the login front end.
const (
	SessionUserID         = "user_id"
	SessionOrganizationID = "organization_id"
	SessionScopes         = "scopes"
)

// Gin context keys set by RequireUser.
const (
	ContextOrganizationID = "organization_id"
	contextTrustedAuth    = "trusted_header_auth"
)

// UserAuthConfig selects where RequireUser finds the interactive user.
// Trusted headers are only honoured when their names are configured, which
// must only be done behind a proxy that strips them from client requests.
type UserAuthConfig struct {
	TrustedUserHeader   string
	TrustedOrgHeader    string
	TrustedScopesHeader string
}

// RequireUser resolves the interactive user from the cookie session or,
// when configured, from trusted proxy headers. Requests without a user are
// rejected with 401.
func RequireUser(cfg UserAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, orgID, scopes, trusted := userFromHeaders(c, cfg)
		if userID == "" {
			userID, orgID, scopes = userFromSession(c)
		}

		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "login_required",
				"error_description": "An authenticated user session is required.",
			})
			return
		}

		c.Set(SessionUserID, userID)
		c.Set(ContextOrganizationID, orgID)
		c.Set(contextTrustedAuth, trusted)

		ctx := util.SetUserIDContext(c.Request.Context(), userID)
		ctx = util.SetUserScopesContext(ctx, scopes)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetOrganizationID returns the organization set by RequireUser.
func GetOrganizationID(c *gin.Context) string {
	return c.GetString(ContextOrganizationID)
}

func userFromHeaders(c *gin.Context, cfg UserAuthConfig) (string, string, []string, bool) {
	if cfg.TrustedUserHeader == "" {
		return "", "", nil, false
	}
	userID := strings.TrimSpace(c.GetHeader(cfg.TrustedUserHeader))
	if userID == "" {
		return "", "", nil, false
	}

	var orgID string
	if cfg.TrustedOrgHeader != "" {
		orgID = strings.TrimSpace(c.GetHeader(cfg.TrustedOrgHeader))
	}
	var scopes []string
	if cfg.TrustedScopesHeader != "" {
		if raw, ok := c.Request.Header[http.CanonicalHeaderKey(cfg.TrustedScopesHeader)]; ok {
			scopes = strings.Fields(strings.Join(raw, " "))
			if scopes == nil {
				scopes = []string{}
			}
		}
	}
	return userID, orgID, scopes, true
}

func userFromSession(c *gin.Context) (string, string, []string) {
	session := sessions.Default(c)
	userID, _ := session.Get(SessionUserID).(string)
	orgID, _ := session.Get(SessionOrganizationID).(string)

	var scopes []string
	if raw, ok := session.Get(SessionScopes).(string); ok {
		scopes = strings.Fields(raw)
		if scopes == nil {
			scopes = []string{}
		}
	}
	return userID, orgID, scopes
}
