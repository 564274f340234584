package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL applies when a token request does not name an expiry.
	DefaultTokenTTL = 90 * 24 * time.Hour
	maxTokenTTL     = 365 * 24 * time.Hour
)

// APIToken is the persisted record of a minted bearer token. The token
// itself is never stored; only its SHA-256 hash.
type APIToken struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *APIToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// CreateTokenRequest is the payload for POST /tokens/.
type CreateTokenRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

// Validate checks the name and converts the expiry into a TTL.
func (r *CreateTokenRequest) Validate() (time.Duration, error) {
	if strings.TrimSpace(r.Name) == "" {
		return 0, ErrMissingName
	}

	if len(r.Name) > maxNameLen {
		return 0, ErrFieldTooLong("name", maxNameLen)
	}

	if r.ExpiresInDays <= 0 {
		return DefaultTokenTTL, nil
	}

	ttl := time.Duration(r.ExpiresInDays) * 24 * time.Hour
	if ttl > maxTokenTTL {
		return maxTokenTTL, nil
	}

	return ttl, nil
}

// CreatedToken is returned once, at mint time, with the bearer value.
type CreatedToken struct {
	APIToken
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)

	return err == nil
}
