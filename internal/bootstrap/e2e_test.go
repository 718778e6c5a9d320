package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-authgate/oauthcore/internal/config"
	"github.com/go-authgate/oauthcore/internal/middleware"
	"github.com/go-authgate/oauthcore/internal/permissions"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	e2eAdminKey    = "e2e-admin-key"
	e2eUserHeader  = "X-Forwarded-User"
	e2eOrgHeader   = "X-Forwarded-Org"
	e2eRedirectURI = "https://app.example.com/callback"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr: ":0",
		BaseURL:    "http://localhost",
		LogLevel:   "info",

		DatabaseDriver: config.DatabaseDriverSQLite,
		DatabaseDSN:    ":memory:",

		TokenHashSecret:  "e2e-token-hash-secret",
		ClientSecretCost: bcrypt.MinCost,

		AuthorizationCodeExpiration: 10 * time.Minute,
		AccessTokenExpiration:       time.Hour,
		RefreshTokenExpiration:      24 * time.Hour,

		SessionSecret:     "e2e-session-secret",
		SessionMaxAge:     3600,
		TrustedUserHeader: e2eUserHeader,
		TrustedOrgHeader:  e2eOrgHeader,

		AdminAPIKey: e2eAdminKey,

		RateLimitStore:   config.RateLimitStoreMemory,
		ClientCacheType:  config.CacheTypeMemory,
		ClientCacheTTL:   time.Minute,
		MetricsCacheType: config.CacheTypeMemory,

		EnableAuditLogging: true,
		AuditLogBufferSize: 100,

		DBInitTimeout:         5 * time.Second,
		RedisConnTimeout:      time.Second,
		CacheInitTimeout:      time.Second,
		ServerShutdownTimeout: time.Second,
		AuditShutdownTimeout:  5 * time.Second,
	}
}

// newTestServer builds the full application and serves its router.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, app.Close(context.Background()))
	})
	return srv
}

func doJSON(
	t *testing.T,
	method, target string,
	body any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

// registerClient creates a confidential client through the admin API.
func registerClient(t *testing.T, baseURL string, scopes []string) (string, string) {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, baseURL+"/admin/clients", map[string]any{
		"name":          "c1",
		"client_type":   "confidential",
		"redirect_uris": []string{e2eRedirectURI},
		"scopes":        scopes,
	}, map[string]string{middleware.AdminAPIKeyHeader: e2eAdminKey})
	require.Equal(t, http.StatusCreated, status, "body: %v", body)

	client, ok := body["client"].(map[string]any)
	require.True(t, ok)
	clientID, _ := client["client_id"].(string)
	secret, _ := body["client_secret"].(string)
	require.NotEmpty(t, clientID)
	require.NotEmpty(t, secret)
	return clientID, secret
}

// approve plays the user's consent step and returns the issued code.
func approve(t *testing.T, baseURL, clientID, scope, challenge, state string) string {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, baseURL+"/oauth2/authorize", map[string]any{
		"response_type":         "code",
		"client_id":             clientID,
		"redirect_uri":          e2eRedirectURI,
		"scope":                 scope,
		"state":                 state,
		"code_challenge":        challenge,
		"code_challenge_method": "S256",
		"approved":              true,
	}, map[string]string{e2eUserHeader: "alice", e2eOrgHeader: "acme"})
	require.Equal(t, http.StatusOK, status, "body: %v", body)

	redirectTo, _ := body["redirect_uri"].(string)
	u, err := url.Parse(redirectTo)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func tokenInfo(t *testing.T, baseURL, accessToken string) (int, map[string]any) {
	t.Helper()
	return doJSON(t, http.MethodGet, baseURL+"/oauth2/tokeninfo", nil,
		map[string]string{"Authorization": "Bearer " + accessToken})
}

func requireInvalidGrant(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	clientID, secret := registerClient(t, srv.URL, []string{"read", "write"})
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  e2eRedirectURI,
		Scopes:       []string{"read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/oauth2/authorize",
			TokenURL:  srv.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	// The consent page describes the request before the user decides.
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL("xyz", oauth2.S256ChallengeOption(verifier))
	status, described := doJSON(t, http.MethodGet, authURL, nil,
		map[string]string{e2eUserHeader: "alice"})
	require.Equal(t, http.StatusOK, status, "body: %v", described)
	assert.Equal(t, []any{"read"}, described["scopes"])

	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	code := approve(t, srv.URL, clientID, "read", challenge, "xyz")

	original, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	require.NotEmpty(t, original.AccessToken)
	require.NotEmpty(t, original.RefreshToken)
	assert.Equal(t, "Bearer", original.TokenType)
	assert.Equal(t, "read", original.Extra("scope"))

	status, info := tokenInfo(t, srv.URL, original.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, info["active"])
	assert.Equal(t, "alice", info["user_id"])
	assert.Equal(t, "acme", info["organization_id"])
	assert.Equal(t, clientID, info["client_id"])

	// A code redeems once.
	_, err = conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	requireInvalidGrant(t, err)

	// Refresh once: the old pair is revoked and the new one keeps the scope.
	expired := *original
	expired.Expiry = time.Now().Add(-time.Minute)
	rotated, err := conf.TokenSource(ctx, &expired).Token()
	require.NoError(t, err)
	assert.NotEqual(t, original.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, original.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, "read", rotated.Extra("scope"))

	status, _ = tokenInfo(t, srv.URL, original.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = tokenInfo(t, srv.URL, rotated.AccessToken)
	assert.Equal(t, http.StatusOK, status)

	// Replaying the rotated-away refresh token burns the whole family.
	replay := *original
	replay.Expiry = time.Now().Add(-time.Minute)
	_, err = conf.TokenSource(ctx, &replay).Token()
	requireInvalidGrant(t, err)

	status, _ = tokenInfo(t, srv.URL, rotated.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status)

	current := *rotated
	current.Expiry = time.Now().Add(-time.Minute)
	_, err = conf.TokenSource(ctx, &current).Token()
	requireInvalidGrant(t, err)
}

func TestAuthorizationCodeFlowRejectsWrongVerifier(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	clientID, secret := registerClient(t, srv.URL, []string{"read"})
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  e2eRedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	verifier := oauth2.GenerateVerifier()
	code := approve(t, srv.URL, clientID, "read", oauth2.S256ChallengeFromVerifier(verifier), "s")

	_, err := conf.Exchange(ctx, code, oauth2.VerifierOption(oauth2.GenerateVerifier()))
	requireInvalidGrant(t, err)

	// Verification precedes the claim, so the rightful holder can still redeem.
	_, err = conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)

	_, err = conf.Exchange(ctx, code)
	requireInvalidGrant(t, err)
}

func TestRevokeEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	clientID, secret := registerClient(t, srv.URL, []string{"read"})
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  e2eRedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	verifier := oauth2.GenerateVerifier()
	code := approve(t, srv.URL, clientID, "read", oauth2.S256ChallengeFromVerifier(verifier), "s")
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)

	revoke := func(token string) int {
		form := url.Values{"token": {token}}
		req, err := http.NewRequest(
			http.MethodPost,
			srv.URL+"/oauth2/revoke",
			bytes.NewBufferString(form.Encode()),
		)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(secret))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, revoke("oat_bogus"))
	assert.Equal(t, http.StatusOK, revoke(tok.AccessToken))
	assert.Equal(t, http.StatusOK, revoke(tok.AccessToken))

	status, _ := tokenInfo(t, srv.URL, tok.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Revoking the access token leaves the refresh token usable.
	tok.Expiry = time.Now().Add(-time.Minute)
	_, err = conf.TokenSource(ctx, tok).Token()
	assert.NoError(t, err)
}

func TestAdminAPIRequiresKey(t *testing.T) {
	srv := newTestServer(t)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/admin/clients", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotNil(t, body)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/admin/clients", nil,
		map[string]string{middleware.AdminAPIKeyHeader: e2eAdminKey})
	assert.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthorizationClampedByPermissionsAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)

	directory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req permissions.LookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := permissions.LookupResponse{Known: req.UserID == "alice", Scopes: []string{"read"}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer directory.Close()

	cfg := testConfig()
	cfg.PermissionsAPIURL = directory.URL
	cfg.PermissionsAPIAuthMode = permissions.AuthModeNone
	app, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, app.Close(context.Background()))
	})

	clientID, secret := registerClient(t, srv.URL, []string{"read", "write"})
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  e2eRedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	verifier := oauth2.GenerateVerifier()
	code := approve(t, srv.URL, clientID, "read write", oauth2.S256ChallengeFromVerifier(verifier), "s")
	tok, err := conf.Exchange(context.Background(), code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "read", tok.Extra("scope"), "alice may only delegate read")
}
