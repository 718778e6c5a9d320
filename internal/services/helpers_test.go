package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-authgate/oauthcore/internal/cache"
	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUserID      = "user-1"
	testOrgID       = "org-1"
	testRedirectURI = "https://app.example.com/callback"
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type testEnv struct {
	store   *store.Store
	codec   *credential.Codec
	audit   *AuditService
	clients *ClientService
	authz   *AuthorizationService
	tokens  *TokenService
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPermissions(t, nil)
}

func newTestEnvWithPermissions(t *testing.T, permissions PermissionSource) *testEnv {
	t.Helper()

	s := setupTestStore(t)
	codec, err := credential.NewCodec("test-hash-secret")
	require.NoError(t, err)

	logger := zap.NewNop()
	audit := NewAuditService(s, logger, true, 100)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = audit.Shutdown(ctx)
	})

	clientCache := cache.NewMemoryCache[models.OAuthClient](time.Minute)
	t.Cleanup(func() { _ = clientCache.Close() })

	clients := NewClientService(s, codec, ClientServiceOptions{
		Cache:        clientCache,
		CacheTTL:     time.Minute,
		AuditService: audit,
		Logger:       logger,
		SecretCost:   bcrypt.MinCost,
	})

	return &testEnv{
		store:   s,
		codec:   codec,
		audit:   audit,
		clients: clients,
		authz: NewAuthorizationService(s, codec, clients, AuthorizationServiceOptions{
			Permissions:  permissions,
			AuditService: audit,
			Logger:       logger,
		}),
		tokens: NewTokenService(s, codec, clients, TokenServiceOptions{
			AuditService: audit,
			Logger:       logger,
		}),
	}
}

// createClient registers a client and returns it with its raw secret
// (empty for public clients).
func (e *testEnv) createClient(
	t *testing.T,
	clientType models.ClientType,
	scopes ...string,
) (*models.OAuthClient, string) {
	t.Helper()
	if len(scopes) == 0 {
		scopes = []string{"read", "write"}
	}
	created, err := e.clients.CreateClient(context.Background(), CreateClientRequest{
		Name:         "Test App",
		ClientType:   clientType,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       scopes,
		CreatedBy:    "admin",
	})
	require.NoError(t, err)
	return created.Client, created.ClientSecret
}

// authorize approves an authorization request with the test verifier and
// returns the raw code from the redirect.
func (e *testEnv) authorize(t *testing.T, client *models.OAuthClient, scope string) string {
	t.Helper()
	target, err := e.authz.Decide(context.Background(), DecisionRequest{
		AuthorizeRequest: AuthorizeRequest{
			ResponseType: "code",
			ClientID:     client.ClientID,
			RedirectURI:  testRedirectURI,
			Scope:        scope,
		},
		State:               "xyz",
		CodeChallenge:       credential.S256Challenge(testVerifier),
		CodeChallengeMethod: models.PKCEMethodS256,
		Approved:            true,
		UserID:              testUserID,
		OrganizationID:      testOrgID,
	})
	require.NoError(t, err)
	return codeFromRedirect(t, target)
}

// issue runs a full authorization and code exchange.
func (e *testEnv) issue(t *testing.T, client *models.OAuthClient, secret, scope string) *TokenPair {
	t.Helper()
	code := e.authorize(t, client, scope)
	pair, err := e.tokens.ExchangeAuthorizationCode(context.Background(), ExchangeCodeRequest{
		Code:         code,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RedirectURI:  testRedirectURI,
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)
	return pair
}

func (e *testEnv) auditEvents(t *testing.T, eventType models.EventType) []models.AuditLog {
	t.Helper()
	logs, _, err := e.store.GetAuditLogsPaginated(
		context.Background(),
		store.PaginationParams{Page: 1, PageSize: 100},
		store.AuditLogFilters{EventType: eventType},
	)
	require.NoError(t, err)
	return logs
}
