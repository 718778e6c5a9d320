package models

import (
	"strings"
	"time"
)

// Token type labels used in metrics and audit details.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessToken is an opaque bearer credential. Only its keyed hash is stored.
type AccessToken struct {
	ID             string `gorm:"primaryKey;size:36"`
	TokenHash      string `gorm:"uniqueIndex;size:64;not null"`
	TokenPrefix    string `gorm:"size:12;not null"` // display only
	RawToken       string `gorm:"-"`                // In-memory only; never persisted to DB
	ClientID       string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index"`
	OrganizationID string `gorm:"index"`
	Scopes         string `gorm:"not null"` // space-separated scopes
	ExpiresAt      time.Time
	RevokedAt      *time.Time `gorm:"index"`
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

func (t *AccessToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

func (t *AccessToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true if the token is neither revoked nor expired
func (t *AccessToken) IsActive() bool {
	return !t.IsRevoked() && !t.IsExpired()
}

func (t *AccessToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

func (AccessToken) TableName() string {
	return "oauth_access_tokens"
}

// RefreshToken is a long-lived renewal credential. Every refresh token that
// descends from one code exchange carries the same FamilyID.
type RefreshToken struct {
	ID             string `gorm:"primaryKey;size:36"`
	TokenHash      string `gorm:"uniqueIndex;size:64;not null"`
	RawToken       string `gorm:"-"`
	AccessTokenID  string `gorm:"uniqueIndex;size:36;not null"` // the access token issued alongside
	ClientID       string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index"`
	OrganizationID string `gorm:"index"`
	Scopes         string `gorm:"not null"`
	FamilyID       string `gorm:"not null;index;size:36"`
	ExpiresAt      time.Time
	RevokedAt      *time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsActive() bool {
	return !t.IsRevoked() && !t.IsExpired()
}

func (t *RefreshToken) ScopeList() []string {
	return strings.Fields(t.Scopes)
}

func (RefreshToken) TableName() string {
	return "oauth_refresh_tokens"
}
