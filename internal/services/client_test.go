package services

import (
	"context"
	"strings"
	"testing"

	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.clients.CreateClient(ctx, CreateClientRequest{
		Name:         "  Billing  ",
		ClientType:   models.ClientTypeConfidential,
		RedirectURIs: []string{testRedirectURI, testRedirectURI, "http://127.0.0.1:8080/cb"},
		Scopes:       []string{"read write", "read"},
		CreatedBy:    "admin",
	})
	require.NoError(t, err)

	client := created.Client
	assert.Equal(t, "Billing", client.Name)
	assert.True(t, client.IsUsable())
	assert.Equal(t, models.StringArray{testRedirectURI, "http://127.0.0.1:8080/cb"}, client.RedirectURIs)
	assert.Equal(t, models.StringArray{"read", "write"}, client.Scopes)

	require.True(t, strings.HasPrefix(created.ClientSecret, string(credential.KindClientSecret)))
	assert.Equal(t, created.ClientSecret[:12], client.SecretPrefix)
	assert.NotContains(t, client.SecretHash, created.ClientSecret)
	assert.True(t, credential.VerifyClientSecret(created.ClientSecret, client.SecretHash))

	public, err := env.clients.CreateClient(ctx, CreateClientRequest{
		Name:         "CLI",
		ClientType:   models.ClientTypePublic,
		RedirectURIs: []string{"http://localhost:9999/callback"},
		Scopes:       []string{"read"},
	})
	require.NoError(t, err)
	assert.Empty(t, public.ClientSecret)
	assert.Empty(t, public.Client.SecretHash)
}

func TestCreateClientValidation(t *testing.T) {
	env := newTestEnv(t)
	env.clients.scopeCatalog = []string{"read", "write"}

	valid := func() CreateClientRequest {
		return CreateClientRequest{
			Name:         "App",
			ClientType:   models.ClientTypeConfidential,
			RedirectURIs: []string{testRedirectURI},
			Scopes:       []string{"read"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateClientRequest)
		wantErr error
	}{
		{"blank name", func(r *CreateClientRequest) { r.Name = "  " }, ErrClientNameRequired},
		{"bad type", func(r *CreateClientRequest) { r.ClientType = "service" }, ErrInvalidClientType},
		{"no redirect uri", func(r *CreateClientRequest) { r.RedirectURIs = nil }, ErrRedirectURIRequired},
		{"relative redirect uri", func(r *CreateClientRequest) { r.RedirectURIs = []string{"/cb"} }, ErrInvalidRedirectURI},
		{"plain http redirect uri", func(r *CreateClientRequest) {
			r.RedirectURIs = []string{"http://app.example.com/cb"}
		}, ErrInvalidRedirectURI},
		{"fragment in redirect uri", func(r *CreateClientRequest) {
			r.RedirectURIs = []string{"https://app.example.com/cb#frag"}
		}, ErrInvalidRedirectURI},
		{"custom scheme", func(r *CreateClientRequest) {
			r.RedirectURIs = []string{"javascript://alert(1)"}
		}, ErrInvalidRedirectURI},
		{"no scope", func(r *CreateClientRequest) { r.Scopes = []string{" "} }, ErrScopeRequired},
		{"scope outside catalogue", func(r *CreateClientRequest) { r.Scopes = []string{"admin"} }, ErrUnknownScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := env.clients.CreateClient(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticateClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	confidential, secret := env.createClient(t, models.ClientTypeConfidential)
	public, _ := env.createClient(t, models.ClientTypePublic)

	got, err := env.clients.AuthenticateClient(ctx, confidential.ClientID, secret)
	require.NoError(t, err)
	assert.Equal(t, confidential.ClientID, got.ClientID)

	_, err = env.clients.AuthenticateClient(ctx, confidential.ClientID, "")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = env.clients.AuthenticateClient(ctx, confidential.ClientID, secret+"x")
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = env.clients.AuthenticateClient(ctx, public.ClientID, "")
	assert.NoError(t, err, "public clients authenticate by id alone")

	_, err = env.clients.AuthenticateClient(ctx, "unknown", "")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestUpdateClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client, _ := env.createClient(t, models.ClientTypeConfidential, "read")

	// Warm the cache so the update must invalidate it.
	_, err := env.clients.GetClient(ctx, client.ClientID)
	require.NoError(t, err)

	name := "Renamed"
	updated, err := env.clients.UpdateClient(ctx, client.ClientID, "admin", UpdateClientRequest{
		Name:         &name,
		RedirectURIs: []string{"https://new.example.com/cb"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, models.StringArray{"read"}, updated.Scopes, "unset fields are kept")

	cached, err := env.clients.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", cached.Name)
	assert.True(t, cached.HasRedirectURI("https://new.example.com/cb"))
	assert.False(t, cached.HasRedirectURI(testRedirectURI))

	empty := ""
	_, err = env.clients.UpdateClient(ctx, client.ClientID, "admin", UpdateClientRequest{Name: &empty})
	assert.ErrorIs(t, err, ErrClientNameRequired)

	_, err = env.clients.UpdateClient(ctx, "missing", "admin", UpdateClientRequest{Name: &name})
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestRotateSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client, oldSecret := env.createClient(t, models.ClientTypeConfidential)
	public, _ := env.createClient(t, models.ClientTypePublic)

	_, err := env.clients.AuthenticateClient(ctx, client.ClientID, oldSecret)
	require.NoError(t, err)

	rotated, err := env.clients.RotateSecret(ctx, client.ClientID, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, rotated.ClientSecret)

	_, err = env.clients.AuthenticateClient(ctx, client.ClientID, oldSecret)
	assert.ErrorIs(t, err, ErrInvalidClient, "old secret stops working immediately")
	_, err = env.clients.AuthenticateClient(ctx, client.ClientID, rotated.ClientSecret)
	assert.NoError(t, err)

	_, err = env.clients.RotateSecret(ctx, public.ClientID, "admin")
	assert.ErrorIs(t, err, ErrPublicClientSecret)

	events := env.auditEvents(t, models.EventClientSecretRegenerated)
	require.Len(t, events, 1)
	assert.Equal(t, client.ClientID, events[0].ResourceID)
}

func TestRevokeClientCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client, secret := env.createClient(t, models.ClientTypeConfidential)
	other, otherSecret := env.createClient(t, models.ClientTypeConfidential)

	first := env.issue(t, client, secret, "")
	second := env.issue(t, client, secret, "")
	survivor := env.issue(t, other, otherSecret, "")

	result, err := env.clients.RevokeClient(ctx, client.ClientID, "admin")
	require.NoError(t, err)
	assert.Equal(t, store.ClientRevocation{AccessTokens: 2, RefreshTokens: 2}, result)

	for _, pair := range []*TokenPair{first, second} {
		_, err := env.tokens.ValidateAccessToken(ctx, pair.Access.RawToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	_, err = env.tokens.ValidateAccessToken(ctx, survivor.Access.RawToken)
	assert.NoError(t, err)

	_, err = env.clients.AuthenticateClient(ctx, client.ClientID, secret)
	assert.ErrorIs(t, err, ErrInvalidClient, "cached client must be invalidated")

	_, err = env.clients.RotateSecret(ctx, client.ClientID, "admin")
	assert.ErrorIs(t, err, ErrClientRevoked)
	_, err = env.clients.RevokeClient(ctx, client.ClientID, "admin")
	assert.ErrorIs(t, err, ErrClientRevoked)

	events := env.auditEvents(t, models.EventClientRevoked)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
}

func TestRevokeAllTokensKeepsClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	client, secret := env.createClient(t, models.ClientTypeConfidential)
	pair := env.issue(t, client, secret, "")

	result, err := env.clients.RevokeAllTokens(ctx, client.ClientID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AccessTokens)
	assert.Equal(t, int64(1), result.RefreshTokens)

	_, err = env.tokens.ValidateAccessToken(ctx, pair.Access.RawToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.clients.AuthenticateClient(ctx, client.ClientID, secret)
	assert.NoError(t, err)

	_, err = env.clients.RevokeAllTokens(ctx, "missing", "admin")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestListClients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		_, err := env.clients.CreateClient(ctx, CreateClientRequest{
			Name:         name,
			RedirectURIs: []string{testRedirectURI},
			Scopes:       []string{"read"},
		})
		require.NoError(t, err)
	}

	clients, page, err := env.clients.ListClients(ctx, store.PaginationParams{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, clients, 2)
	assert.Equal(t, int64(3), page.Total)
	assert.True(t, page.HasNext)

	clients, page, err = env.clients.ListClients(ctx, store.PaginationParams{Page: 1, PageSize: 10, Search: "gamma"})
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "gamma", clients[0].Name)
	assert.Equal(t, int64(1), page.Total)
}

func TestIsAllowedRedirectURI(t *testing.T) {
	tests := map[string]bool{
		"https://app.example.com/cb":     true,
		"https://app.example.com:8443/":  true,
		"http://localhost:3000/callback": true,
		"http://127.0.0.1/cb":            true,
		"http://[::1]:8080/cb":           true,
		"http://example.com/cb":          false,
		"ftp://example.com/cb":           false,
		"https:///cb":                    false,
		"https://app.example.com/cb#x":   false,
		"not a url":                      false,
	}
	for uri, want := range tests {
		assert.Equal(t, want, isAllowedRedirectURI(uri), uri)
	}
}
