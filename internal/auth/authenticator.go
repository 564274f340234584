package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Authentication methods recorded on a Principal.
const (
	MethodToken   = "token"
	MethodSession = "session"
)

// Principal is the authenticated caller of one request.
type Principal struct {
	tenant.Identity
	Method  string
	TokenID string
}

// TokenRecords looks up a token record. Lookups run inside the token's own
// organization, so a forged org claim finds nothing.
type TokenRecords interface {
	Get(ctx context.Context, id tenant.Identity, tokenID string) (*models.APIToken, error)
}

// Authenticator verifies bearer tokens against their records.
type Authenticator struct {
	issuer  *Issuer
	records TokenRecords
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(issuer *Issuer, records TokenRecords) *Authenticator {
	return &Authenticator{issuer: issuer, records: records, now: time.Now}
}

// AuthenticateToken verifies raw and returns its principal.
func (a *Authenticator) AuthenticateToken(ctx context.Context, raw string) (Principal, error) {
	claims, err := a.issuer.Verify(raw)
	if err != nil {
		return Principal{}, err
	}

	id := claims.Identity()

	rec, err := a.records.Get(ctx, id, claims.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Principal{}, &models.AuthenticationError{Reason: "unknown token", Err: models.ErrInvalidCredential}
		}

		return Principal{}, err
	}

	if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(HashToken(raw))) != 1 ||
		rec.UserID != id.UserID || rec.OrganizationID != id.OrganizationID {
		return Principal{}, &models.AuthenticationError{Reason: "token does not match its record", Err: models.ErrInvalidCredential}
	}

	if rec.RevokedAt != nil {
		return Principal{}, &models.AuthenticationError{Reason: "token revoked", Err: models.ErrTokenRevoked}
	}

	if !rec.Active(a.now()) {
		return Principal{}, &models.AuthenticationError{Reason: "token expired", Err: models.ErrTokenExpired}
	}

	return Principal{Identity: id, Method: MethodToken, TokenID: rec.ID}, nil
}
