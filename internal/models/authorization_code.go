package models

import (
	"strings"
	"time"
)

// PKCEMethodS256 is the only supported code_challenge_method.
const PKCEMethodS256 = "S256"

// AuthorizationCode stores OAuth 2.0 authorization codes (RFC 6749).
// Codes are short-lived (default 10 minutes) and single-use.
type AuthorizationCode struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	UUID string `gorm:"uniqueIndex;size:36;not null"`

	// Code storage: keyed hash for lookup, prefix for log correlation
	CodeHash   string `gorm:"uniqueIndex;size:64;not null"`
	CodePrefix string `gorm:"size:12;not null"`

	ClientID       string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index"`
	OrganizationID string `gorm:"index"`

	RedirectURI string `gorm:"not null"`
	Scopes      string `gorm:"not null"` // space-separated

	// PKCE (RFC 7636)
	CodeChallenge       string `gorm:"default:''"` // empty = PKCE not used
	CodeChallengeMethod string `gorm:"default:''"`

	ExpiresAt time.Time
	UsedAt    *time.Time // set by the atomic claim on exchange
	CreatedAt time.Time
}

func (a *AuthorizationCode) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

func (a *AuthorizationCode) IsUsed() bool {
	return a.UsedAt != nil
}

// HasPKCE reports whether the code was issued with a PKCE challenge.
func (a *AuthorizationCode) HasPKCE() bool {
	return a.CodeChallenge != ""
}

// ScopeList returns the granted scopes.
func (a *AuthorizationCode) ScopeList() []string {
	return strings.Fields(a.Scopes)
}

func (AuthorizationCode) TableName() string {
	return "oauth_authorization_codes"
}
