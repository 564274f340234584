package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const tokenColumns = `id, organization_id, user_id, name, token_hash, expires_at, last_used_at, revoked_at, created_at`

var tokenSortColumns = []string{"created_at", "expires_at", "name"}

func scanToken(row pgx.Row) (models.APIToken, error) {
	var t models.APIToken
	err := row.Scan(&t.ID, &t.OrganizationID, &t.UserID, &t.Name, &t.TokenHash,
		&t.ExpiresAt, &t.LastUsedAt, &t.RevokedAt, &t.CreatedAt)

	return t, err
}

// TokenStore persists API token records. Tokens are looked up by id (the
// JWT "jti" claim) inside the organization named by the token itself.
type TokenStore struct {
	Base
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(base Base) *TokenStore {
	return &TokenStore{Base: base}
}

// Create stores a token record. ID, Name, TokenHash and ExpiresAt must be set.
func (s *TokenStore) Create(ctx context.Context, id tenant.Identity, t *models.APIToken) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	created, err := scanToken(tx.QueryRow(ctx,
		`INSERT INTO api_tokens (id, organization_id, user_id, name, token_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+tokenColumns,
		t.ID, id.OrganizationID, id.UserID, t.Name, t.TokenHash, t.ExpiresAt))
	if err != nil {
		return mapError(err, models.ErrTokenNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing create token: %w", err)
	}

	*t = created

	return nil
}

// Get returns a token record by id.
func (s *TokenStore) Get(ctx context.Context, id tenant.Identity, tokenID string) (*models.APIToken, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	t, err := scanToken(tx.QueryRow(ctx, "SELECT "+tokenColumns+" FROM api_tokens WHERE id = $1", tokenID))
	if err != nil {
		return nil, mapError(err, models.ErrTokenNotFound)
	}

	return &t, nil
}

// List returns the caller's own tokens.
func (s *TokenStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.APIToken], error) {
	var page models.Page[models.APIToken]

	if err := p.Normalize(tokenSortColumns); err != nil {
		return page, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return page, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	const where = " FROM api_tokens WHERE organization_id = $1 AND user_id = $2"

	if err := tx.QueryRow(ctx, "SELECT count(*)"+where, id.OrganizationID, id.UserID).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("counting tokens: %w", err)
	}

	rows, err := tx.Query(ctx,
		"SELECT "+tokenColumns+where+" "+p.OrderBy()+" LIMIT $3 OFFSET $4",
		id.OrganizationID, id.UserID, p.Limit, p.Skip)
	if err != nil {
		return page, fmt.Errorf("listing tokens: %w", err)
	}

	page.Items, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.APIToken, error) {
		return scanToken(r)
	})
	if err != nil {
		return page, fmt.Errorf("scanning tokens: %w", err)
	}

	return page, nil
}

// Revoke marks the caller's token revoked. Revoking twice is not an error.
func (s *TokenStore) Revoke(ctx context.Context, id tenant.Identity, tokenID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	tag, err := tx.Exec(ctx,
		`UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, now())
		 WHERE id = $1 AND organization_id = $2 AND user_id = $3`,
		tokenID, id.OrganizationID, id.UserID)
	if err != nil {
		return mapError(err, models.ErrTokenNotFound)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrTokenNotFound
	}

	return tx.Commit(ctx)
}

// TouchLastUsed records that the token authenticated a request.
func (s *TokenStore) TouchLastUsed(ctx context.Context, id tenant.Identity, tokenID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if _, err := tx.Exec(ctx,
		"UPDATE api_tokens SET last_used_at = now() WHERE id = $1 AND organization_id = $2",
		tokenID, id.OrganizationID); err != nil {
		return fmt.Errorf("touching token: %w", err)
	}

	return tx.Commit(ctx)
}
