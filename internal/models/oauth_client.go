package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"
)

// ClientType distinguishes clients that can keep a secret from those that cannot.
type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// IsValid reports whether t is a known client type.
func (t ClientType) IsValid() bool {
	return t == ClientTypePublic || t == ClientTypeConfidential
}

// OAuthClient is a registered OAuth 2.0 client application.
// Clients are never deleted, only revoked. The JSON form includes the secret
// hash so the struct can be cached; never serialize it to API callers.
type OAuthClient struct {
	ID             uint        `gorm:"primaryKey;autoIncrement"                   json:"-"`
	ClientID       string      `gorm:"uniqueIndex;size:64;not null"               json:"client_id"`
	SecretHash     string      `gorm:"default:''"                                 json:"secret_hash,omitempty"`
	SecretPrefix   string      `gorm:"size:12;default:''"                         json:"secret_prefix,omitempty"`
	Name           string      `gorm:"not null"                                   json:"name"`
	Description    string      `gorm:"type:text"                                  json:"description,omitempty"`
	WebsiteURL     string      `json:"website_url,omitempty"`
	LogoURL        string      `json:"logo_url,omitempty"`
	ClientType     ClientType  `gorm:"size:20;not null;default:'confidential'"    json:"client_type"`
	RedirectURIs   StringArray `gorm:"type:json"                                  json:"redirect_uris"`
	Scopes         StringArray `gorm:"type:json"                                  json:"scopes"`
	OrganizationID string      `gorm:"index"                                      json:"organization_id,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty"`
	IsActive       bool        `gorm:"not null;default:true"                      json:"is_active"`
	RevokedAt      *time.Time  `json:"revoked_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsUsable returns true if the client is active and has not been revoked
func (c *OAuthClient) IsUsable() bool {
	return c.IsActive && c.RevokedAt == nil
}

func (c *OAuthClient) IsPublic() bool {
	return c.ClientType == ClientTypePublic
}

func (c *OAuthClient) IsConfidential() bool {
	return c.ClientType == ClientTypeConfidential
}

// HasRedirectURI reports whether uri is registered. Matching is exact.
func (c *OAuthClient) HasRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// AllowsScope reports whether scope is in the client's allowed set.
func (c *OAuthClient) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// AllowedScopes returns a copy of the client's allowed scope set.
func (c *OAuthClient) AllowedScopes() []string {
	return slices.Clone(c.Scopes)
}

func (OAuthClient) TableName() string {
	return "oauth_clients"
}

// StringArray is a custom type for []string that can be stored as JSON in database
type StringArray []string

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value any) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSON value")
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Join returns a string with elements joined by the specified separator
func (s StringArray) Join(sep string) string {
	return strings.Join(s, sep)
}
