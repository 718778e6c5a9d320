package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Grant types accepted by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Token type hints (RFC 7009 section 2.1).
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

const (
	defaultAccessTokenExpiration  = time.Hour
	defaultRefreshTokenExpiration = 30 * 24 * time.Hour
)

// ExchangeCodeRequest carries the authorization_code grant parameters.
type ExchangeCodeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// RefreshRequest carries the refresh_token grant parameters.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// RevokeRequest carries the revocation endpoint parameters.
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	Access  *models.AccessToken
	Refresh *models.RefreshToken
}

// ExpiresIn returns the access token lifetime in whole seconds.
func (p *TokenPair) ExpiresIn() int64 {
	return int64(time.Until(p.Access.ExpiresAt).Round(time.Second).Seconds())
}

// TokenService issues, rotates, revokes and validates opaque tokens.
type TokenService struct {
	store        *store.Store
	codec        *credential.Codec
	clients      *ClientService
	auditService *AuditService
	metrics      metrics.Recorder
	logger       *zap.Logger
	tracer       trace.Tracer

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// TokenServiceOptions configures a TokenService.
type TokenServiceOptions struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuditService    *AuditService
	Metrics         metrics.Recorder
	Logger          *zap.Logger
}

func NewTokenService(
	s *store.Store,
	codec *credential.Codec,
	clients *ClientService,
	opts TokenServiceOptions,
) *TokenService {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = defaultAccessTokenExpiration
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = defaultRefreshTokenExpiration
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		store:        s,
		codec:        codec,
		clients:      clients,
		auditService: opts.AuditService,
		metrics:      opts.Metrics,
		logger:       logger.Named("token"),
		tracer:       otel.Tracer(tracerName),
		accessTTL:    opts.AccessTokenTTL,
		refreshTTL:   opts.RefreshTokenTTL,
	}
}

func (s *TokenService) startSpan(
	ctx context.Context,
	name, clientID string,
) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "token."+name,
		trace.WithAttributes(attribute.String("oauth.client_id", clientID)))
}

// endSpan marks the span failed for server-side errors only; OAuth errors
// are ordinary outcomes.
func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := OAuthErrorCode(err); code != "" {
			span.SetAttributes(attribute.String("oauth.error", code))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// ExchangeAuthorizationCode redeems a code for a new token family.
func (s *TokenService) ExchangeAuthorizationCode(
	ctx context.Context,
	req ExchangeCodeRequest,
) (_ *TokenPair, err error) {
	ctx, span := s.startSpan(ctx, "ExchangeAuthorizationCode", req.ClientID)
	defer func() { endSpan(span, err) }()

	if req.Code == "" || req.ClientID == "" || req.RedirectURI == "" {
		return nil, newOAuthError(ErrInvalidRequest, "code, client_id, and redirect_uri are required.")
	}

	client, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.store.GetAuthorizationCodeByHash(ctx, s.codec.Hash(req.Code))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, newOAuthError(ErrInvalidGrant, "Authorization code not found.")
		}
		s.metrics.RecordDatabaseQueryError("get_authorization_code")
		return nil, err
	}

	if code.IsUsed() {
		s.reportCodeReplay(ctx, code, client)
		return nil, newOAuthError(ErrInvalidGrant, descCodeAlreadyUsed)
	}
	if code.IsExpired() {
		return nil, newOAuthError(ErrInvalidGrant, "Authorization code expired.")
	}
	if code.ClientID != client.ClientID {
		return nil, newOAuthError(ErrInvalidGrant, "Client mismatch.")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, newOAuthError(ErrInvalidGrant, "Redirect URI mismatch.")
	}
	if code.HasPKCE() {
		if req.CodeVerifier == "" {
			return nil, newOAuthError(ErrInvalidGrant, "code_verifier is required.")
		}
		if !credential.VerifyPKCE(req.CodeVerifier, code.CodeChallenge) {
			return nil, newOAuthError(ErrInvalidGrant, "PKCE verification failed.")
		}
	}

	scopes, err := grantableScopes(client, code.ScopeList())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pair, err := s.newTokenPair(client, code.UserID, code.OrganizationID, scopes, credential.NewFamilyID())
	if err != nil {
		return nil, err
	}

	if err := s.store.RedeemAuthorizationCode(ctx, code.ID, pair.Access, pair.Refresh); err != nil {
		if errors.Is(err, store.ErrAuthCodeAlreadyUsed) {
			s.reportCodeReplay(ctx, code, client)
			return nil, newOAuthError(ErrInvalidGrant, descCodeAlreadyUsed)
		}
		s.metrics.RecordDatabaseQueryError("redeem_authorization_code")
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}
	s.recordIssued(GrantTypeAuthorizationCode, time.Since(start))

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventAuthorizationCodeExchanged,
		Severity:      models.SeverityInfo,
		ActorUserID:   code.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceToken,
		ResourceID:    pair.Access.ID,
		Action:        "Authorization code exchanged for tokens",
		Details: models.AuditDetails{
			"code_prefix":  code.CodePrefix,
			"token_prefix": pair.Access.TokenPrefix,
			"family_id":    pair.Refresh.FamilyID,
			"scopes":       pair.Access.Scopes,
			"pkce":         code.HasPKCE(),
		},
		Success: true,
	})

	return pair, nil
}

// RefreshAccessToken rotates a refresh token. Presenting a token that was
// already rotated or revoked invalidates its whole family.
func (s *TokenService) RefreshAccessToken(
	ctx context.Context,
	req RefreshRequest,
) (_ *TokenPair, err error) {
	ctx, span := s.startSpan(ctx, "RefreshAccessToken", req.ClientID)
	defer func() {
		s.metrics.RecordTokenRefresh(err == nil)
		endSpan(span, err)
	}()

	if req.RefreshToken == "" || req.ClientID == "" {
		return nil, newOAuthError(ErrInvalidRequest, "refresh_token and client_id are required.")
	}

	client, err := s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	old, err := s.store.GetRefreshTokenByHash(ctx, s.codec.Hash(req.RefreshToken))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, newOAuthError(ErrInvalidGrant, "Refresh token not found.")
		}
		s.metrics.RecordDatabaseQueryError("get_refresh_token")
		return nil, err
	}

	if old.IsRevoked() {
		return nil, s.handleRefreshReplay(ctx, old, client)
	}
	if old.IsExpired() {
		return nil, newOAuthError(ErrInvalidGrant, "Refresh token expired.")
	}
	if old.ClientID != client.ClientID {
		return nil, newOAuthError(ErrInvalidGrant, "Client mismatch.")
	}

	scopes, err := grantableScopes(client, old.ScopeList())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pair, err := s.newTokenPair(client, old.UserID, old.OrganizationID, scopes, old.FamilyID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RotateRefreshToken(ctx, old, pair.Access, pair.Refresh); err != nil {
		if errors.Is(err, store.ErrRefreshTokenAlreadyUsed) {
			// Lost a race against a concurrent rotation of the same token.
			return nil, s.handleRefreshReplay(ctx, old, client)
		}
		s.metrics.RecordDatabaseQueryError("rotate_refresh_token")
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	s.recordIssued(GrantTypeRefreshToken, time.Since(start))
	s.metrics.RecordTokenRevoked(models.TokenTypeRefresh, "rotated")

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventTokenRefreshed,
		Severity:      models.SeverityInfo,
		ActorUserID:   old.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceToken,
		ResourceID:    pair.Access.ID,
		Action:        "Refresh token rotated",
		Details: models.AuditDetails{
			"family_id":            old.FamilyID,
			"old_refresh_token_id": old.ID,
			"new_refresh_token_id": pair.Refresh.ID,
			"token_prefix":         pair.Access.TokenPrefix,
			"scopes":               pair.Access.Scopes,
		},
		Success: true,
	})

	return pair, nil
}

// Revoke implements RFC 7009. It never reports whether a token matched;
// the returned error is for server-side failures only and callers still
// answer 200.
func (s *TokenService) Revoke(ctx context.Context, req RevokeRequest) (err error) {
	ctx, span := s.startSpan(ctx, "Revoke", req.ClientID)
	defer func() { endSpan(span, err) }()

	if req.Token == "" {
		return nil
	}

	var client *models.OAuthClient
	if req.ClientID != "" {
		client, err = s.clients.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
		if err != nil {
			if OAuthErrorCode(err) != "" {
				s.logger.Debug("revocation ignored: client authentication failed",
					zap.String("client_id", req.ClientID))
				return nil
			}
			return err
		}
	}

	hash := s.codec.Hash(req.Token)
	lookups := []func(context.Context, string, *models.OAuthClient) (bool, error){
		s.revokeAccessByHash,
		s.revokeRefreshByHash,
	}
	if req.TokenTypeHint == TokenTypeHintRefreshToken {
		slices.Reverse(lookups)
	}

	for _, lookup := range lookups {
		matched, err := lookup(ctx, hash, client)
		if err != nil {
			return err
		}
		if matched {
			return nil
		}
	}
	return nil
}

// revokeAccessByHash reports whether hash named an access token. A token
// owned by another client counts as matched but is left untouched.
func (s *TokenService) revokeAccessByHash(
	ctx context.Context,
	hash string,
	client *models.OAuthClient,
) (bool, error) {
	tok, err := s.store.GetAccessTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if client != nil && tok.ClientID != client.ClientID {
		return true, nil
	}

	changed, err := s.store.RevokeAccessToken(ctx, tok.ID)
	if err != nil {
		return true, err
	}
	if changed {
		s.recordRevocation(ctx, models.TokenTypeAccess, tok.ID, tok.ClientID, tok.UserID)
	}
	return true, nil
}

func (s *TokenService) revokeRefreshByHash(
	ctx context.Context,
	hash string,
	client *models.OAuthClient,
) (bool, error) {
	tok, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if client != nil && tok.ClientID != client.ClientID {
		return true, nil
	}

	changed, err := s.store.RevokeRefreshToken(ctx, tok.ID)
	if err != nil {
		return true, err
	}
	if changed {
		s.recordRevocation(ctx, models.TokenTypeRefresh, tok.ID, tok.ClientID, tok.UserID)
	}
	return true, nil
}

func (s *TokenService) recordRevocation(
	ctx context.Context,
	tokenType, tokenID, clientID, userID string,
) {
	s.metrics.RecordTokenRevoked(tokenType, "client_request")
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventTokenRevoked,
		Severity:      models.SeverityInfo,
		ActorUserID:   userID,
		ActorClientID: clientID,
		ResourceType:  models.ResourceToken,
		ResourceID:    tokenID,
		Action:        "Token revoked",
		Details:       models.AuditDetails{"token_type": tokenType},
		Success:       true,
	})
}

// ValidateAccessToken resolves a bearer token to its active record and
// records its use.
func (s *TokenService) ValidateAccessToken(
	ctx context.Context,
	raw string,
) (_ *models.AccessToken, err error) {
	start := time.Now()
	result := "valid"
	defer func() { s.metrics.RecordTokenValidation(result, time.Since(start)) }()

	if raw == "" {
		result = "missing"
		return nil, newOAuthError(ErrInvalidToken, "Access token is required.")
	}

	tok, err := s.store.GetAccessTokenByHash(ctx, s.codec.Hash(raw))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			result = "invalid"
			return nil, newOAuthError(ErrInvalidToken, "Access token not found.")
		}
		result = "error"
		return nil, err
	}
	if tok.IsRevoked() {
		result = "revoked"
		return nil, newOAuthError(ErrInvalidToken, "Access token has been revoked.")
	}
	if tok.IsExpired() {
		result = "expired"
		return nil, newOAuthError(ErrInvalidToken, "Access token expired.")
	}

	now := time.Now()
	if err := s.store.TouchAccessToken(ctx, tok.ID, now); err != nil {
		s.logger.Warn("failed to record token use",
			zap.String("token_prefix", tok.TokenPrefix),
			zap.Error(err))
	} else {
		tok.LastUsedAt = &now
	}
	return tok, nil
}

// handleRefreshReplay revokes the whole family of a refresh token that was
// presented after it had already been consumed.
func (s *TokenService) handleRefreshReplay(
	ctx context.Context,
	presented *models.RefreshToken,
	client *models.OAuthClient,
) error {
	s.metrics.RecordReplayDetected(GrantTypeRefreshToken)

	revoked, err := s.store.RevokeFamily(ctx, presented.FamilyID)
	if err != nil {
		s.metrics.RecordDatabaseQueryError("revoke_family")
		s.logger.Error("failed to revoke token family after replay",
			zap.String("family_id", presented.FamilyID),
			zap.Error(err))
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	for range revoked.AccessTokens {
		s.metrics.RecordTokenRevoked(models.TokenTypeAccess, "replay")
	}
	for range revoked.RefreshTokens {
		s.metrics.RecordTokenRevoked(models.TokenTypeRefresh, "replay")
	}

	s.logger.Warn("refresh token replay detected, token family revoked",
		zap.String("family_id", presented.FamilyID),
		zap.String("client_id", client.ClientID),
		zap.String("user_id", presented.UserID),
		zap.Int64("revoked_access_tokens", revoked.AccessTokens),
		zap.Int64("revoked_refresh_tokens", revoked.RefreshTokens))

	if err := s.auditService.LogSync(ctx, AuditLogEntry{
		EventType:     models.EventSuspiciousActivity,
		Severity:      models.SeverityCritical,
		ActorUserID:   presented.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceTokenFamily,
		ResourceID:    presented.FamilyID,
		Action:        "Refresh token replay detected; token family revoked",
		Details: models.AuditDetails{
			"family_id":              presented.FamilyID,
			"refresh_token_id":       presented.ID,
			"revoked_access_tokens":  revoked.AccessTokens,
			"revoked_refresh_tokens": revoked.RefreshTokens,
		},
		Success: false,
	}); err != nil {
		s.logger.Error("failed to write replay audit event", zap.Error(err))
	}

	return newOAuthError(ErrInvalidGrant, descRefreshTokenReplay)
}

// reportCodeReplay records a redemption attempt for a consumed code.
func (s *TokenService) reportCodeReplay(
	ctx context.Context,
	code *models.AuthorizationCode,
	client *models.OAuthClient,
) {
	s.metrics.RecordReplayDetected(GrantTypeAuthorizationCode)
	s.logger.Warn("authorization code replay detected",
		zap.String("code_prefix", code.CodePrefix),
		zap.String("client_id", client.ClientID),
		zap.String("user_id", code.UserID))

	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventSuspiciousActivity,
		Severity:      models.SeverityWarning,
		ActorUserID:   code.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceAuthorizationCode,
		ResourceID:    code.UUID,
		Action:        "Authorization code replay detected",
		Details:       models.AuditDetails{"code_prefix": code.CodePrefix},
		Success:       false,
	})
}

func (s *TokenService) newTokenPair(
	client *models.OAuthClient,
	userID, organizationID string,
	scopes []string,
	familyID string,
) (*TokenPair, error) {
	accessSecret, err := s.codec.NewSecret(credential.KindAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshSecret, err := s.codec.NewSecret(credential.KindRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := time.Now()
	joined := strings.Join(scopes, " ")
	access := &models.AccessToken{
		ID:             uuid.New().String(),
		TokenHash:      accessSecret.Hash,
		TokenPrefix:    accessSecret.Prefix,
		RawToken:       accessSecret.Raw,
		ClientID:       client.ClientID,
		UserID:         userID,
		OrganizationID: organizationID,
		Scopes:         joined,
		ExpiresAt:      now.Add(s.accessTTL),
	}
	refresh := &models.RefreshToken{
		ID:             uuid.New().String(),
		TokenHash:      refreshSecret.Hash,
		RawToken:       refreshSecret.Raw,
		ClientID:       client.ClientID,
		UserID:         userID,
		OrganizationID: organizationID,
		Scopes:         joined,
		FamilyID:       familyID,
		ExpiresAt:      now.Add(s.refreshTTL),
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *TokenService) recordIssued(grantType string, took time.Duration) {
	s.metrics.RecordTokenIssued(models.TokenTypeAccess, grantType, took)
	s.metrics.RecordTokenIssued(models.TokenTypeRefresh, grantType, took)
}

// grantableScopes drops scopes the client is no longer allowed, so a token
// never carries a scope outside the client's current allowed set.
func grantableScopes(client *models.OAuthClient, scopes []string) ([]string, error) {
	out := slices.DeleteFunc(slices.Clone(scopes), func(sc string) bool {
		return !client.AllowsScope(sc)
	})
	if len(out) == 0 {
		return nil, newOAuthError(ErrInvalidScope, "None of the granted scopes are still allowed for this client.")
	}
	return out, nil
}
