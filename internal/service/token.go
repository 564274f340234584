package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TokenRecordStore persists API token records.
type TokenRecordStore interface {
	Create(ctx context.Context, id tenant.Identity, t *models.APIToken) error
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.APIToken], error)
	Revoke(ctx context.Context, id tenant.Identity, tokenID string) error
}

// TokenIssuer signs bearer tokens. *auth.Issuer satisfies it.
type TokenIssuer interface {
	Issue(id tenant.Identity, tokenID string, ttl time.Duration) (string, time.Time, error)
}

// TokenCache drops cached token records.
type TokenCache interface {
	Invalidate(id tenant.Identity, tokenID string)
}

var _ domain.TokenService = (*TokenService)(nil)

// TokenService mints, lists and revokes API tokens.
type TokenService struct {
	store       TokenRecordStore
	issuer      TokenIssuer
	cache       TokenCache
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewTokenService creates a TokenService. cache may be nil.
func NewTokenService(store TokenRecordStore, issuer TokenIssuer, cache TokenCache, auditWorker AuditEnqueuer, log *logrus.Logger) *TokenService {
	return &TokenService{store: store, issuer: issuer, cache: cache, auditWorker: auditWorker, log: log}
}

// MintToken signs a token for the caller and stores its hash. The bearer
// value is returned only here.
func (s *TokenService) MintToken(ctx context.Context, id tenant.Identity, req models.CreateTokenRequest) (*models.CreatedToken, error) {
	ttl, err := req.Validate()
	if err != nil {
		return nil, err
	}

	tokenID := uuid.NewString()

	raw, expiresAt, err := s.issuer.Issue(id, tokenID, ttl)
	if err != nil {
		return nil, err
	}

	rec := models.APIToken{
		ID:             tokenID,
		OrganizationID: id.OrganizationID,
		UserID:         id.UserID,
		Name:           req.Name,
		TokenHash:      auth.HashToken(raw),
		ExpiresAt:      expiresAt,
	}

	if err := s.store.Create(ctx, id, &rec); err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}

	auditAsync(ctx, s.auditWorker, id, models.AuditTokenCreated, "token", tokenID, map[string]any{
		"name":       req.Name,
		"expires_at": expiresAt,
	})

	return &models.CreatedToken{APIToken: rec, AccessToken: raw, TokenType: "bearer"}, nil
}

// ListTokens lists the caller's tokens (pass-through).
func (s *TokenService) ListTokens(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.APIToken], error) {
	return s.store.List(ctx, id, p)
}

// RevokeToken revokes one of the caller's tokens and drops it from the
// verification cache.
func (s *TokenService) RevokeToken(ctx context.Context, id tenant.Identity, tokenID string) error {
	if err := s.store.Revoke(ctx, id, tokenID); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Invalidate(id, tokenID)
	}

	auditAsync(ctx, s.auditWorker, id, models.AuditTokenRevoked, "token", tokenID, nil)

	return nil
}
