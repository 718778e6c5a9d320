package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-authgate/oauthcore/internal/core"
	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/store"

	"go.uber.org/zap"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientNameRequired  = errors.New("client name is required")
	ErrInvalidClientType   = errors.New("client type must be public or confidential")
	ErrRedirectURIRequired = errors.New("at least one redirect URI is required")
	ErrInvalidRedirectURI  = errors.New("redirect URI must be an absolute https URL or http on a loopback host")
	ErrScopeRequired       = errors.New("at least one scope is required")
	ErrUnknownScope        = errors.New("scope is not in the scope catalogue")
	ErrClientRevoked       = errors.New("client has been revoked")
	ErrPublicClientSecret  = errors.New("public clients have no secret")
)

const clientCacheKeyPrefix = "client:"

// ClientService is the client registry: cached lookups for the OAuth
// endpoints plus the management operations behind the admin API and CLI.
type ClientService struct {
	store        *store.Store
	codec        *credential.Codec
	cache        core.Cache[models.OAuthClient]
	cacheTTL     time.Duration
	metrics      core.Recorder
	auditService *AuditService
	logger       *zap.Logger
	scopeCatalog []string
	secretCost   int
}

// ClientServiceOptions carries the optional collaborators of ClientService.
type ClientServiceOptions struct {
	Cache        core.Cache[models.OAuthClient]
	CacheTTL     time.Duration
	Metrics      core.Recorder
	AuditService *AuditService
	Logger       *zap.Logger
	ScopeCatalog []string
	SecretCost   int // bcrypt cost; 0 selects the default
}

func NewClientService(
	s *store.Store,
	codec *credential.Codec,
	opts ClientServiceOptions,
) *ClientService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetrics()
	}
	return &ClientService{
		store:        s,
		codec:        codec,
		cache:        opts.Cache,
		cacheTTL:     opts.CacheTTL,
		metrics:      opts.Metrics,
		auditService: opts.AuditService,
		logger:       logger.Named("clients"),
		scopeCatalog: opts.ScopeCatalog,
		secretCost:   opts.SecretCost,
	}
}

// CreateClientRequest describes a new client registration.
type CreateClientRequest struct {
	Name           string
	Description    string
	WebsiteURL     string
	LogoURL        string
	ClientType     models.ClientType
	RedirectURIs   []string
	Scopes         []string
	OrganizationID string
	CreatedBy      string
}

// UpdateClientRequest is a partial update; nil fields are left unchanged.
type UpdateClientRequest struct {
	Name         *string
	Description  *string
	WebsiteURL   *string
	LogoURL      *string
	RedirectURIs []string
	Scopes       []string
}

// ClientWithSecret carries a freshly generated secret, which is only ever
// available in the response to the call that created it.
type ClientWithSecret struct {
	Client       *models.OAuthClient
	ClientSecret string
}

// GetClient returns the client registered under clientID, whether or not
// it is usable. Callers check IsUsable.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*models.OAuthClient, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	fetch := func(ctx context.Context, _ string) (models.OAuthClient, error) {
		client, err := s.store.GetClient(ctx, clientID)
		if err != nil {
			return models.OAuthClient{}, err
		}
		return *client, nil
	}

	var (
		client models.OAuthClient
		err    error
	)
	if s.cache != nil {
		client, err = s.cache.GetWithFetch(ctx, clientCacheKeyPrefix+clientID, s.cacheTTL, fetch)
	} else {
		client, err = fetch(ctx, clientID)
	}
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

// ResolveUsableClient returns the client when it exists and is usable,
// otherwise invalid_client.
func (s *ClientService) ResolveUsableClient(
	ctx context.Context,
	clientID string,
) (*models.OAuthClient, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			s.metrics.RecordClientAuthFailure("unknown_client")
			return nil, newOAuthError(ErrInvalidClient, descClientNotUsable)
		}
		return nil, err
	}
	if !client.IsUsable() {
		s.metrics.RecordClientAuthFailure("revoked")
		return nil, newOAuthError(ErrInvalidClient, descClientNotUsable)
	}
	return client, nil
}

// AuthenticateClient resolves a usable client and, for confidential
// clients, verifies the presented secret.
func (s *ClientService) AuthenticateClient(
	ctx context.Context,
	clientID, clientSecret string,
) (*models.OAuthClient, error) {
	client, err := s.ResolveUsableClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.IsConfidential() && !s.verifySecret(client, clientSecret) {
		s.metrics.RecordClientAuthFailure("bad_secret")
		return nil, newOAuthError(ErrInvalidClient, descClientAuthFailed)
	}
	return client, nil
}

func (s *ClientService) verifySecret(client *models.OAuthClient, secret string) bool {
	if secret == "" {
		return false
	}
	return credential.VerifyClientSecret(secret, client.SecretHash)
}

// ListClients returns a page of clients.
func (s *ClientService) ListClients(
	ctx context.Context,
	params store.PaginationParams,
) ([]models.OAuthClient, store.PaginationResult, error) {
	return s.store.ListClients(ctx, params)
}

// CreateClient validates and registers a client. Confidential clients get
// a secret, returned once.
func (s *ClientService) CreateClient(
	ctx context.Context,
	req CreateClientRequest,
) (*ClientWithSecret, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrClientNameRequired
	}
	if req.ClientType == "" {
		req.ClientType = models.ClientTypeConfidential
	}
	if !req.ClientType.IsValid() {
		return nil, ErrInvalidClientType
	}
	redirectURIs, err := normalizeRedirectURIs(req.RedirectURIs)
	if err != nil {
		return nil, err
	}
	scopes, err := s.normalizeScopes(req.Scopes)
	if err != nil {
		return nil, err
	}

	clientID, err := credential.NewClientID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}

	client := &models.OAuthClient{
		ClientID:       clientID,
		Name:           name,
		Description:    strings.TrimSpace(req.Description),
		WebsiteURL:     strings.TrimSpace(req.WebsiteURL),
		LogoURL:        strings.TrimSpace(req.LogoURL),
		ClientType:     req.ClientType,
		RedirectURIs:   redirectURIs,
		Scopes:         scopes,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
		IsActive:       true,
	}

	var rawSecret string
	if client.IsConfidential() {
		rawSecret, err = s.assignSecret(client)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s.logger.Info("client created",
		zap.String("client_id", client.ClientID),
		zap.String("client_type", string(client.ClientType)),
		zap.String("created_by", req.CreatedBy))

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventClientCreated,
		Severity:     models.SeverityInfo,
		ActorUserID:  req.CreatedBy,
		ResourceType: models.ResourceClient,
		ResourceID:   client.ClientID,
		ResourceName: client.Name,
		Action:       "OAuth client created",
		Details: models.AuditDetails{
			"client_type":   string(client.ClientType),
			"redirect_uris": []string(client.RedirectURIs),
			"scopes":        []string(client.Scopes),
		},
		Success: true,
	})

	return &ClientWithSecret{Client: client, ClientSecret: rawSecret}, nil
}

// UpdateClient applies a partial update. Revoked clients are immutable.
func (s *ClientService) UpdateClient(
	ctx context.Context,
	clientID, actor string,
	req UpdateClientRequest,
) (*models.OAuthClient, error) {
	client, err := s.loadForMutation(ctx, clientID)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ErrClientNameRequired
		}
		client.Name = name
		changed = append(changed, "name")
	}
	if req.Description != nil {
		client.Description = strings.TrimSpace(*req.Description)
		changed = append(changed, "description")
	}
	if req.WebsiteURL != nil {
		client.WebsiteURL = strings.TrimSpace(*req.WebsiteURL)
		changed = append(changed, "website_url")
	}
	if req.LogoURL != nil {
		client.LogoURL = strings.TrimSpace(*req.LogoURL)
		changed = append(changed, "logo_url")
	}
	if req.RedirectURIs != nil {
		uris, err := normalizeRedirectURIs(req.RedirectURIs)
		if err != nil {
			return nil, err
		}
		client.RedirectURIs = uris
		changed = append(changed, "redirect_uris")
	}
	if req.Scopes != nil {
		scopes, err := s.normalizeScopes(req.Scopes)
		if err != nil {
			return nil, err
		}
		client.Scopes = scopes
		changed = append(changed, "scopes")
	}

	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	s.invalidate(ctx, clientID)

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:    models.EventClientUpdated,
		Severity:     models.SeverityInfo,
		ActorUserID:  actor,
		ResourceType: models.ResourceClient,
		ResourceID:   client.ClientID,
		ResourceName: client.Name,
		Action:       "OAuth client updated",
		Details:      models.AuditDetails{"changed_fields": changed},
		Success:      true,
	})

	return client, nil
}

// RotateSecret replaces a confidential client's secret. The old secret
// stops working immediately.
func (s *ClientService) RotateSecret(
	ctx context.Context,
	clientID, actor string,
) (*ClientWithSecret, error) {
	client, err := s.loadForMutation(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.IsPublic() {
		return nil, ErrPublicClientSecret
	}

	rawSecret, err := s.assignSecret(client)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store rotated secret: %w", err)
	}
	s.invalidate(ctx, clientID)

	s.logger.Info("client secret rotated", zap.String("client_id", clientID))
	_ = s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:    models.EventClientSecretRegenerated,
		Severity:     models.SeverityWarning,
		ActorUserID:  actor,
		ResourceType: models.ResourceClient,
		ResourceID:   client.ClientID,
		ResourceName: client.Name,
		Action:       "OAuth client secret rotated",
		Details:      models.AuditDetails{"secret_prefix": client.SecretPrefix},
		Success:      true,
	})

	return &ClientWithSecret{Client: client, ClientSecret: rawSecret}, nil
}

// RevokeClient deactivates a client and revokes every token issued to it.
func (s *ClientService) RevokeClient(
	ctx context.Context,
	clientID, actor string,
) (store.ClientRevocation, error) {
	client, err := s.loadForMutation(ctx, clientID)
	if err != nil {
		return store.ClientRevocation{}, err
	}

	result, err := s.store.RevokeClient(ctx, clientID, time.Now())
	if err != nil {
		return result, fmt.Errorf("failed to revoke client: %w", err)
	}
	s.invalidate(ctx, clientID)

	s.logger.Warn("client revoked",
		zap.String("client_id", clientID),
		zap.Int64("access_tokens", result.AccessTokens),
		zap.Int64("refresh_tokens", result.RefreshTokens))
	_ = s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:    models.EventClientRevoked,
		Severity:     models.SeverityCritical,
		ActorUserID:  actor,
		ResourceType: models.ResourceClient,
		ResourceID:   clientID,
		ResourceName: client.Name,
		Action:       "OAuth client revoked",
		Details: models.AuditDetails{
			"revoked_access_tokens":  result.AccessTokens,
			"revoked_refresh_tokens": result.RefreshTokens,
		},
		Success: true,
	})

	return result, nil
}

// RevokeAllTokens revokes every token of a client and leaves the client usable.
func (s *ClientService) RevokeAllTokens(
	ctx context.Context,
	clientID, actor string,
) (store.ClientRevocation, error) {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return store.ClientRevocation{}, err
	}

	result, err := s.store.RevokeAllForClient(ctx, clientID, time.Now())
	if err != nil {
		return result, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	_ = s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:    models.EventClientTokensRevokedAll,
		Severity:     models.SeverityCritical,
		ActorUserID:  actor,
		ResourceType: models.ResourceClient,
		ResourceID:   clientID,
		Action:       "All client tokens revoked by administrator",
		Details: models.AuditDetails{
			"revoked_access_tokens":  result.AccessTokens,
			"revoked_refresh_tokens": result.RefreshTokens,
		},
		Success: true,
	})

	return result, nil
}

// loadForMutation reads straight from the store, bypassing the cache.
func (s *ClientService) loadForMutation(
	ctx context.Context,
	clientID string,
) (*models.OAuthClient, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	if client.RevokedAt != nil {
		return nil, ErrClientRevoked
	}
	return client, nil
}

func (s *ClientService) assignSecret(client *models.OAuthClient) (string, error) {
	secret, err := s.codec.NewSecret(credential.KindClientSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	hash, err := credential.HashClientSecret(secret.Raw, s.secretCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	client.SecretHash = hash
	client.SecretPrefix = secret.Prefix
	return secret.Raw, nil
}

func (s *ClientService) invalidate(ctx context.Context, clientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, clientCacheKeyPrefix+clientID); err != nil {
		s.logger.Warn("failed to invalidate cached client",
			zap.String("client_id", clientID),
			zap.Error(err))
	}
}

func (s *ClientService) normalizeScopes(scopes []string) (models.StringArray, error) {
	out := make(models.StringArray, 0, len(scopes))
	for _, scope := range scopes {
		for _, sc := range strings.Fields(scope) {
			if len(s.scopeCatalog) > 0 && !slices.Contains(s.scopeCatalog, sc) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownScope, sc)
			}
			if !slices.Contains(out, sc) {
				out = append(out, sc)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrScopeRequired
	}
	return out, nil
}

func normalizeRedirectURIs(uris []string) (models.StringArray, error) {
	out := make(models.StringArray, 0, len(uris))
	for _, raw := range uris {
		uri := strings.TrimSpace(raw)
		if uri == "" {
			continue
		}
		if !isAllowedRedirectURI(uri) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRedirectURI, uri)
		}
		if !slices.Contains(out, uri) {
			out = append(out, uri)
		}
	}
	if len(out) == 0 {
		return nil, ErrRedirectURIRequired
	}
	return out, nil
}

func isAllowedRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() || u.Host == "" || u.Fragment != "" {
		return false
	}
	switch u.Scheme {
	case "https":
		return true
	case "http":
		return isLoopbackHost(u.Hostname())
	default:
		return false
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
