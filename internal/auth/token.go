// Package auth issues and verifies API tokens and manages browser sessions.
//
// API tokens are HS256 JWTs carrying the user in "sub", the organization in
// "org" and the token record id in "jti". The signature and expiry are
// checked here; revocation is checked against the token record.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Claims is the JWT payload of an API token.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org"`
}

// Identity returns the tenant identity the token was minted for.
func (c *Claims) Identity() tenant.Identity {
	return tenant.Identity{OrganizationID: c.OrganizationID, UserID: c.Subject}
}

// Issuer signs and verifies API tokens with a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer. issuer is written to and required in "iss".
func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for id with the given record id and lifetime.
func (i *Issuer) Issue(id tenant.Identity, tokenID string, ttl time.Duration) (string, time.Time, error) {
	if !id.Complete() {
		return "", time.Time{}, fmt.Errorf("%w: token needs organization and user", models.ErrInvalidTenant)
	}

	now := i.now()
	expires := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.UserID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		OrganizationID: id.OrganizationID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return signed, expires, nil
}

// Verify checks signature, issuer and expiry and returns the claims. Every
// failure is an *models.AuthenticationError.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &models.AuthenticationError{Reason: "token expired", Err: models.ErrTokenExpired}
		}

		return nil, &models.AuthenticationError{Reason: "invalid token", Err: models.ErrInvalidCredential}
	}

	if !claims.Identity().Complete() || claims.ID == "" {
		return nil, &models.AuthenticationError{Reason: "token is missing identity claims", Err: models.ErrInvalidCredential}
	}

	if !models.IsUUID(claims.OrganizationID) || !models.IsUUID(claims.Subject) {
		return nil, &models.AuthenticationError{Reason: "token identity is malformed", Err: models.ErrInvalidCredential}
	}

	return claims, nil
}

// HashToken returns the hex SHA-256 of a raw token as stored on its record.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(h[:])
}
