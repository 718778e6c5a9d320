package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-authgate/oauthcore/internal/credential"
	"github.com/go-authgate/oauthcore/internal/metrics"
	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/store"
	"github.com/go-authgate/oauthcore/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/go-authgate/oauthcore/internal/services"

	// MaxStateLength bounds the opaque state echoed back to the client.
	MaxStateLength = 1024

	defaultAuthCodeExpiration = 10 * time.Minute
)

// PermissionSource reports which scopes a user may delegate. When ok is
// false nothing is known about the user and no clamp is applied.
type PermissionSource interface {
	UserScopes(ctx context.Context, userID, organizationID string) (scopes []string, ok bool, err error)
}

// ContextPermissions reads the user's scopes placed on the request context
// by the session middleware.
type ContextPermissions struct{}

func (ContextPermissions) UserScopes(ctx context.Context, _, _ string) ([]string, bool, error) {
	scopes, ok := util.GetUserScopesFromContext(ctx)
	return scopes, ok, nil
}

// AuthorizeRequest holds the query parameters of the authorization endpoint.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
}

// DecisionRequest is the user's consent decision for an AuthorizeRequest.
type DecisionRequest struct {
	AuthorizeRequest
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Approved            bool

	UserID         string
	OrganizationID string
}

// AuthorizationDescription is what the consent screen needs to render.
type AuthorizationDescription struct {
	Client       *models.OAuthClient
	RedirectURI  string
	Scopes       []string
	PKCERequired bool
}

// AuthorizationService implements both phases of the authorization endpoint.
type AuthorizationService struct {
	store        *store.Store
	codec        *credential.Codec
	clients      *ClientService
	permissions  PermissionSource
	codeTTL      time.Duration
	auditService *AuditService
	metrics      metrics.Recorder
	logger       *zap.Logger
	tracer       trace.Tracer
}

// AuthorizationServiceOptions configures an AuthorizationService.
type AuthorizationServiceOptions struct {
	Permissions  PermissionSource
	CodeTTL      time.Duration
	AuditService *AuditService
	Metrics      metrics.Recorder
	Logger       *zap.Logger
}

func NewAuthorizationService(
	s *store.Store,
	codec *credential.Codec,
	clients *ClientService,
	opts AuthorizationServiceOptions,
) *AuthorizationService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = defaultAuthCodeExpiration
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationService{
		store:        s,
		codec:        codec,
		clients:      clients,
		permissions:  opts.Permissions,
		codeTTL:      opts.CodeTTL,
		auditService: opts.AuditService,
		metrics:      opts.Metrics,
		logger:       logger.Named("authorize"),
		tracer:       otel.Tracer(tracerName),
	}
}

// Describe validates an authorization request and returns the client and
// effective scopes to show on the consent screen. Nothing is persisted.
func (s *AuthorizationService) Describe(
	ctx context.Context,
	req AuthorizeRequest,
) (*AuthorizationDescription, error) {
	client, err := s.validateTarget(ctx, req)
	if err != nil {
		s.metrics.RecordAuthorizationDecision("rejected")
		return nil, err
	}

	scopes, err := requestedScopes(client, req.Scope)
	if err != nil {
		s.metrics.RecordAuthorizationDecision("rejected")
		return nil, err
	}

	return &AuthorizationDescription{
		Client:       client,
		RedirectURI:  req.RedirectURI,
		Scopes:       scopes,
		PKCERequired: client.IsPublic(),
	}, nil
}

// Decide applies the user's decision and returns the URI the user agent
// should be sent to. Errors are only returned when the request itself is
// invalid; a denial is a successful call carrying error=access_denied.
func (s *AuthorizationService) Decide(
	ctx context.Context,
	req DecisionRequest,
) (redirectTo string, err error) {
	ctx, span := s.tracer.Start(ctx, "authorize.Decide",
		trace.WithAttributes(
			attribute.String("oauth.client_id", req.ClientID),
			attribute.Bool("oauth.approved", req.Approved),
		))
	defer func() {
		if err != nil && OAuthErrorCode(err) == "" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// The client and redirect URI are checked before either outcome so
	// that nothing is ever sent to an unverified URI.
	client, err := s.validateTarget(ctx, req.AuthorizeRequest)
	if err != nil {
		s.metrics.RecordAuthorizationDecision("rejected")
		return "", err
	}
	if len(req.State) > MaxStateLength {
		s.metrics.RecordAuthorizationDecision("rejected")
		return "", newOAuthError(ErrInvalidRequest, "state is too long.")
	}

	if !req.Approved {
		return s.deny(ctx, client, req)
	}
	return s.approve(ctx, client, req)
}

func (s *AuthorizationService) deny(
	ctx context.Context,
	client *models.OAuthClient,
	req DecisionRequest,
) (string, error) {
	params := url.Values{"error": {ErrAccessDenied.Error()}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	target, err := appendQuery(req.RedirectURI, params)
	if err != nil {
		return "", err
	}

	s.metrics.RecordAuthorizationDecision("denied")
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventAuthorizationCodeDenied,
		Severity:      models.SeverityInfo,
		ActorUserID:   req.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceClient,
		ResourceID:    client.ClientID,
		ResourceName:  client.Name,
		Action:        "User denied authorization",
		Success:       true,
	})
	return target, nil
}

func (s *AuthorizationService) approve(
	ctx context.Context,
	client *models.OAuthClient,
	req DecisionRequest,
) (string, error) {
	if req.UserID == "" {
		return "", errors.New("authorization decision without an authenticated user")
	}

	challenge := strings.TrimSpace(req.CodeChallenge)
	method := req.CodeChallengeMethod
	if client.IsPublic() && challenge == "" {
		s.metrics.RecordAuthorizationDecision("rejected")
		return "", newOAuthError(ErrInvalidRequest, "code_challenge is required for public clients.")
	}
	if challenge != "" {
		// An absent method means plain, which is not supported.
		if method != models.PKCEMethodS256 {
			s.metrics.RecordAuthorizationDecision("rejected")
			return "", newOAuthError(ErrInvalidRequest, "Only S256 code_challenge_method is supported.")
		}
	} else {
		method = ""
	}

	scopes, err := s.effectiveScopes(ctx, client, req)
	if err != nil {
		s.metrics.RecordAuthorizationDecision("rejected")
		return "", err
	}

	secret, err := s.codec.NewSecret(credential.KindAuthorizationCode)
	if err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	code := &models.AuthorizationCode{
		UUID:                uuid.New().String(),
		CodeHash:            secret.Hash,
		CodePrefix:          secret.Prefix,
		ClientID:            client.ClientID,
		UserID:              req.UserID,
		OrganizationID:      req.OrganizationID,
		RedirectURI:         req.RedirectURI,
		Scopes:              strings.Join(scopes, " "),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		ExpiresAt:           time.Now().Add(s.codeTTL),
	}
	if err := s.store.CreateAuthorizationCode(ctx, code); err != nil {
		s.metrics.RecordDatabaseQueryError("create_authorization_code")
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	params := url.Values{"code": {secret.Raw}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	target, err := appendQuery(req.RedirectURI, params)
	if err != nil {
		return "", err
	}

	s.metrics.RecordAuthorizationDecision("approved")
	s.auditService.Log(ctx, AuditLogEntry{
		EventType:     models.EventAuthorizationCodeGenerated,
		Severity:      models.SeverityInfo,
		ActorUserID:   req.UserID,
		ActorClientID: client.ClientID,
		ResourceType:  models.ResourceAuthorizationCode,
		ResourceID:    code.UUID,
		Action:        "Authorization code generated",
		Details: models.AuditDetails{
			"code_prefix":  code.CodePrefix,
			"scopes":       code.Scopes,
			"pkce":         code.HasPKCE(),
			"redirect_uri": code.RedirectURI,
		},
		Success: true,
	})

	return target, nil
}

// validateTarget checks response_type, the client and the redirect URI.
func (s *AuthorizationService) validateTarget(
	ctx context.Context,
	req AuthorizeRequest,
) (*models.OAuthClient, error) {
	if req.ResponseType != "code" {
		return nil, newOAuthError(ErrUnsupportedResponseType, "Only response_type=code is supported.")
	}
	if req.ClientID == "" {
		return nil, newOAuthError(ErrInvalidRequest, "client_id is required.")
	}

	client, err := s.clients.ResolveUsableClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, newOAuthError(ErrInvalidRequest, "Redirect URI not registered for this client.")
	}
	return client, nil
}

// effectiveScopes intersects the requested scopes with the client's allowed
// set and, when known, with the approving user's permissions.
func (s *AuthorizationService) effectiveScopes(
	ctx context.Context,
	client *models.OAuthClient,
	req DecisionRequest,
) ([]string, error) {
	requested := parseScopes(req.Scope)
	var scopes []string
	if len(requested) == 0 {
		scopes = client.AllowedScopes()
	} else {
		for _, sc := range requested {
			if client.AllowsScope(sc) {
				scopes = append(scopes, sc)
			}
		}
	}

	if s.permissions != nil {
		held, ok, err := s.permissions.UserScopes(ctx, req.UserID, req.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user permissions: %w", err)
		}
		if ok {
			scopes = slices.DeleteFunc(scopes, func(sc string) bool {
				return !slices.Contains(held, sc)
			})
		}
	}

	if len(scopes) == 0 {
		return nil, newOAuthError(ErrInvalidScope, "No grantable scopes for this request.")
	}
	return scopes, nil
}

// requestedScopes returns the requested scopes when all of them are allowed,
// or the client's full allowed set when none were requested.
func requestedScopes(client *models.OAuthClient, scope string) ([]string, error) {
	requested := parseScopes(scope)
	if len(requested) == 0 {
		return client.AllowedScopes(), nil
	}

	var invalid []string
	for _, sc := range requested {
		if !client.AllowsScope(sc) {
			invalid = append(invalid, sc)
		}
	}
	if len(invalid) > 0 {
		return nil, newOAuthError(ErrInvalidScope, "Invalid scopes: "+strings.Join(invalid, ", "))
	}
	return requested, nil
}

// parseScopes splits a space-delimited scope parameter, dropping duplicates.
func parseScopes(scope string) []string {
	var out []string
	for _, sc := range strings.Fields(scope) {
		if !slices.Contains(out, sc) {
			out = append(out, sc)
		}
	}
	return out
}

// appendQuery adds params to uri, keeping any query it already carries.
func appendQuery(uri string, params url.Values) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
