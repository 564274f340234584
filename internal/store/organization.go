package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const organizationColumns = `id, name, created_at`

var organizationSortColumns = []string{"created_at", "name"}

func scanOrganization(row pgx.Row) (models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.CreatedAt)

	return o, err
}

// OrganizationStore handles organizations, the tenant boundary itself.
type OrganizationStore struct {
	Base
}

// NewOrganizationStore creates a new OrganizationStore.
func NewOrganizationStore(base Base) *OrganizationStore {
	return &OrganizationStore{Base: base}
}

// Bootstrap creates an organization together with its first user. The
// transaction runs as the new organization, so the insert satisfies the
// isolation policy without a bypass.
func (s *OrganizationStore) Bootstrap(
	ctx context.Context,
	orgName, email, userName string,
	superuser bool,
) (*models.Organization, *models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	id := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	org, err := scanOrganization(tx.QueryRow(ctx,
		"INSERT INTO organizations (id, name) VALUES ($1, $2) RETURNING "+organizationColumns,
		id.OrganizationID, orgName))
	if err != nil {
		return nil, nil, fmt.Errorf("inserting organization: %w", mapError(err, models.ErrOrganizationNotFound))
	}

	user, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO users (id, organization_id, email, name, is_superuser)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		id.UserID, id.OrganizationID, email, userName, superuser))
	if err != nil {
		return nil, nil, fmt.Errorf("inserting user: %w", mapError(err, models.ErrUserNotFound))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing bootstrap: %w", err)
	}

	return &org, &user, nil
}

// Get returns the caller's own organization.
func (s *OrganizationStore) Get(ctx context.Context, id tenant.Identity) (*models.Organization, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	org, err := scanOrganization(tx.QueryRow(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE id = $1", id.OrganizationID))
	if err != nil {
		return nil, mapError(err, models.ErrOrganizationNotFound)
	}

	return &org, nil
}

// ListAll lists every organization. It needs a bypass granted to a superuser.
func (s *OrganizationStore) ListAll(
	ctx context.Context,
	id tenant.Identity,
	bypass dbpool.Bypass,
	p models.ListParams,
) (models.Page[models.Organization], error) {
	var page models.Page[models.Organization]

	if err := p.Normalize(organizationSortColumns); err != nil {
		return page, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id, dbpool.WithBypass(bypass))
	if err != nil {
		return page, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	if err := tx.QueryRow(ctx, "SELECT count(*) FROM organizations").Scan(&page.Total); err != nil {
		return page, fmt.Errorf("counting organizations: %w", err)
	}

	rows, err := tx.Query(ctx,
		"SELECT "+organizationColumns+" FROM organizations "+p.OrderBy()+" LIMIT $1 OFFSET $2",
		p.Limit, p.Skip)
	if err != nil {
		return page, fmt.Errorf("listing organizations: %w", err)
	}

	page.Items, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.Organization, error) {
		return scanOrganization(r)
	})
	if err != nil {
		return page, fmt.Errorf("scanning organizations: %w", err)
	}

	return page, nil
}
