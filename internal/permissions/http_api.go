// Package permissions resolves the scopes a user is allowed to delegate
// to a client during the authorization step.
package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// Bounds how much of an error body ends up in a returned error.
	maxBodyPreview = 200
	maxBodySize    = 1 << 20
)

// Source reports which scopes a user may delegate. ok is false when the
// source knows nothing about the user.
type Source interface {
	UserScopes(ctx context.Context, userID, organizationID string) (scopes []string, ok bool, err error)
}

// Config configures an HTTPAPISource.
type Config struct {
	URL           string
	AuthMode      string // "none", "simple" or "hmac"
	AuthSecret    string
	AuthHeader    string // header carrying the secret in simple mode
	Timeout       time.Duration
	MaxRetries    int // zero uses the default, negative disables retries
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// HTTPAPISource asks an external directory service for a user's scopes.
type HTTPAPISource struct {
	url     string
	signer  *Signer
	retrier *retrier
}

// NewHTTPAPISource creates a source that POSTs lookups to cfg.URL.
func NewHTTPAPISource(cfg Config) (*HTTPAPISource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrAPIConnection)
	}
	if err := ValidateAuthMode(cfg.AuthMode); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPAPISource{
		url: cfg.URL,
		signer: &Signer{
			Mode:         cfg.AuthMode,
			Secret:       cfg.AuthSecret,
			SecretHeader: cfg.AuthHeader,
		},
		retrier: newRetrier(
			&http.Client{Timeout: timeout},
			cfg.MaxRetries,
			cfg.RetryDelay,
			cfg.MaxRetryDelay,
		),
	}, nil
}

// LookupRequest is the payload sent to the permissions API.
type LookupRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// LookupResponse is the expected response. Known=false means the user
// is not managed by the directory; Scopes is then ignored.
type LookupResponse struct {
	Known   bool     `json:"known"`
	Scopes  []string `json:"scopes"`
	Message string   `json:"message,omitempty"`
}

// UserScopes implements Source.
func (s *HTTPAPISource) UserScopes(
	ctx context.Context,
	userID, organizationID string,
) ([]string, bool, error) {
	payload, err := json.Marshal(LookupRequest{UserID: userID, OrganizationID: organizationID})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.retrier.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAPIConnection, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := s.signer.Sign(req, payload); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrAPIConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read response", ErrAPIInvalidResponse)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var lookup LookupResponse
		if json.Unmarshal(body, &lookup) == nil && lookup.Message != "" {
			return nil, false, fmt.Errorf("%w: HTTP %d - %s", ErrAPIRejected, resp.StatusCode, lookup.Message)
		}
		preview := string(body)
		if len(preview) > maxBodyPreview {
			preview = preview[:maxBodyPreview] + "..."
		}
		return nil, false, fmt.Errorf("%w: HTTP %d - %s", ErrAPIInvalidResponse, resp.StatusCode, preview)
	}

	var lookup LookupResponse
	if err := json.Unmarshal(body, &lookup); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrAPIInvalidResponse, err)
	}
	if !lookup.Known {
		return nil, false, nil
	}
	if lookup.Scopes == nil {
		lookup.Scopes = []string{}
	}
	return lookup.Scopes, true, nil
}

// Chain consults each source in order and returns the first answer from a
// source that knows the user.
type Chain []Source

// UserScopes implements Source.
func (c Chain) UserScopes(ctx context.Context, userID, organizationID string) ([]string, bool, error) {
	for _, src := range c {
		scopes, ok, err := src.UserScopes(ctx, userID, organizationID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return scopes, true, nil
		}
	}
	return nil, false, nil
}
