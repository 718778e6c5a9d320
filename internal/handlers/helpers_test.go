package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAdminKey    = "test-admin-key"
	testRedirectURI = "https://app.example.com/callback"
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	headerUser   = "X-Auth-User"
	headerOrg    = "X-Auth-Org"
	headerScopes = "X-Auth-Scopes"
)

type handlerEnv struct {
	store   *store.Store
	audit   *services.AuditService
	clients *services.ClientService
	tokens  *services.TokenService
	router  *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	codec, err := credential.NewCodec("handler-test-secret")
	require.NoError(t, err)

	logger := zap.NewNop()
	audit := services.NewAuditService(s, logger, true, 100)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = audit.Shutdown(ctx)
	})

	clients := services.NewClientService(s, codec, services.ClientServiceOptions{
		AuditService: audit,
		Logger:       logger,
		SecretCost:   bcrypt.MinCost,
	})
	authz := services.NewAuthorizationService(s, codec, clients, services.AuthorizationServiceOptions{
		Permissions:  services.ContextPermissions{},
		AuditService: audit,
		Logger:       logger,
	})
	tokens := services.NewTokenService(s, codec, clients, services.TokenServiceOptions{
		AuditService: audit,
		Logger:       logger,
	})

	cfg := &config.Config{BaseURL: "https://auth.example.com"}
	authorization := NewAuthorizationHandler(authz, logger)
	token := NewTokenHandler(tokens, cfg, logger)
	client := NewClientHandler(clients, logger)
	auditHandler := NewAuditHandler(audit, logger)

	r := gin.New()
	r.Use(sessions.Sessions("oauthcore_session", cookie.NewStore([]byte("handler-test-session"))))
	r.Use(util.IPMiddleware())

	userAuth := middleware.UserAuthConfig{
		TrustedUserHeader:   headerUser,
		TrustedOrgHeader:    headerOrg,
		TrustedScopesHeader: headerScopes,
	}
	oauth := r.Group("/oauth2")
	oauth.POST("/token", token.Token)
	oauth.POST("/revoke", token.Revoke)
	oauth.GET("/tokeninfo", middleware.RequireAccessToken(tokens), token.TokenInfo)
	consent := oauth.Group("/authorize", middleware.RequireUser(userAuth), middleware.CSRFMiddleware())
	consent.GET("", authorization.Describe)
	consent.POST("", authorization.Decide)

	admin := r.Group("/admin", middleware.RequireAdminAPIKey(testAdminKey))
	admin.GET("/clients", client.ListClients)
	admin.POST("/clients", client.CreateClient)
	admin.GET("/clients/:client_id", client.GetClient)
	admin.PATCH("/clients/:client_id", client.UpdateClient)
	admin.DELETE("/clients/:client_id", client.RevokeClient)
	admin.POST("/clients/:client_id/rotate-secret", client.RotateSecret)
	admin.POST("/clients/:client_id/revoke-tokens", client.RevokeTokens)
	admin.GET("/audit", auditHandler.ListAuditLogs)
	admin.GET("/audit/stats", auditHandler.GetAuditLogStats)
	admin.GET("/audit/export", auditHandler.ExportAuditLogs)

	return &handlerEnv{
		store:   s,
		audit:   audit,
		clients: clients,
		tokens:  tokens,
		router:  r,
	}
}

func (e *handlerEnv) createClient(
	t *testing.T,
	clientType models.ClientType,
) (*models.OAuthClient, string) {
	t.Helper()
	created, err := e.clients.CreateClient(context.Background(), services.CreateClientRequest{
		Name:         "Handler App",
		ClientType:   clientType,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read", "write"},
	})
	require.NoError(t, err)
	return created.Client, created.ClientSecret
}

func (e *handlerEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) postForm(path string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	return e.serve(req)
}

func (e *handlerEnv) postJSON(path string, body any, header http.Header) *httptest.ResponseRecorder {
	return e.sendJSON(http.MethodPost, path, body, header)
}

func (e *handlerEnv) sendJSON(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return e.serve(req)
}

func (e *handlerEnv) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	return e.serve(req)
}

// authorize approves a PKCE authorization request as user alice and
// returns the raw code.
func (e *handlerEnv) authorize(t *testing.T, client *models.OAuthClient) string {
	t.Helper()
	w := e.postJSON("/oauth2/authorize", map[string]any{
		"response_type":         "code",
		"client_id":             client.ClientID,
		"redirect_uri":          testRedirectURI,
		"scope":                 "read",
		"state":                 "st-1",
		"code_challenge":        credential.S256Challenge(testVerifier),
		"code_challenge_method": "S256",
		"approved":              true,
	}, userHeader())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		RedirectURI string `json:"redirect_uri"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	target, err := url.Parse(body.RedirectURI)
	require.NoError(t, err)
	code := target.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// issue runs the code flow through the HTTP surface and returns the
// decoded token response.
func (e *handlerEnv) issue(t *testing.T, client *models.OAuthClient, secret string) tokenResponse {
	t.Helper()
	code := e.authorize(t, client)
	w := e.postForm("/oauth2/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {client.ClientID},
		"client_secret": {secret},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {testVerifier},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeToken(t, w)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var tok tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	return tok
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func userHeader() http.Header {
	h := http.Header{}
	h.Set(headerUser, "alice")
	h.Set(headerOrg, "acme")
	return h
}

func adminHeader() http.Header {
	h := http.Header{}
	h.Set(middleware.AdminAPIKeyHeader, testAdminKey)
	return h
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
