package services

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes (RFC 6749 section 5.2 and 4.1.2.1). The sentinel's
// message is the wire error code; handlers pick the HTTP status from it.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrAccessDenied            = errors.New("access_denied")
	ErrInvalidToken            = errors.New("invalid_token")
)

// oauthError pairs an OAuth error code with a human-readable description.
type oauthError struct {
	code        error
	description string
}

func (e *oauthError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.description)
}

func (e *oauthError) Unwrap() error {
	return e.code
}

func newOAuthError(code error, description string) error {
	return &oauthError{code: code, description: description}
}

// ErrorDescription returns the description attached to an OAuth error, or
// the empty string when none was attached.
func ErrorDescription(err error) string {
	var oe *oauthError
	if errors.As(err, &oe) {
		return oe.description
	}
	return ""
}

// OAuthErrorCode returns the wire error code for err, or "" when err is not
// one of the OAuth sentinels.
func OAuthErrorCode(err error) string {
	for _, code := range []error{
		ErrInvalidRequest,
		ErrInvalidClient,
		ErrInvalidGrant,
		ErrInvalidScope,
		ErrUnsupportedGrantType,
		ErrUnsupportedResponseType,
		ErrAccessDenied,
		ErrInvalidToken,
	} {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return ""
}

// Replay descriptions are part of the observable contract.
const (
	descCodeAlreadyUsed    = "Authorization code already used."
	descRefreshTokenReplay = "Refresh token has been revoked. All tokens in this chain have been invalidated."
	descClientAuthFailed   = "Client authentication failed."
	descClientNotUsable    = "Client not found or inactive."
)
