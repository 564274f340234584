package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const endpointColumns = `id, organization_id, project_id, name, url, auth_token IS NOT NULL, created_at, updated_at`

var endpointSortColumns = []string{"created_at", "updated_at", "name"}

func scanEndpoint(row pgx.Row) (models.Endpoint, error) {
	var e models.Endpoint
	err := row.Scan(&e.ID, &e.OrganizationID, &e.ProjectID, &e.Name, &e.URL, &e.HasAuthToken, &e.CreatedAt, &e.UpdatedAt)

	return e, err
}

// EndpointStore handles endpoints. Auth tokens are encrypted with the
// organization's key and only decrypted by GetWithSecretTx.
type EndpointStore struct {
	Base
}

// NewEndpointStore creates a new EndpointStore.
func NewEndpointStore(base Base) *EndpointStore {
	return &EndpointStore{Base: base}
}

// List returns a page of the organization's endpoints.
func (s *EndpointStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Endpoint], error) {
	if err := p.Normalize(endpointSortColumns); err != nil {
		return models.Page[models.Endpoint]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.Endpoint]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "endpoints", endpointColumns, id.OrganizationID, p, scanEndpoint)
}

// Get returns an endpoint without its credential.
func (s *EndpointStore) Get(ctx context.Context, id tenant.Identity, endpointID string) (*models.Endpoint, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	e, err := scanEndpoint(tx.QueryRow(ctx, "SELECT "+endpointColumns+" FROM endpoints WHERE id = $1", endpointID))
	if err != nil {
		return nil, mapError(err, models.ErrEndpointNotFound)
	}

	return &e, nil
}

// GetWithSecretTx loads an endpoint and decrypts its auth token inside an
// existing tenant transaction.
func (s *EndpointStore) GetWithSecretTx(ctx context.Context, tx pgx.Tx, organizationID, endpointID string) (*models.Endpoint, error) {
	var (
		e      models.Endpoint
		sealed []byte
	)

	err := tx.QueryRow(ctx,
		`SELECT id, organization_id, project_id, name, url, auth_token, created_at, updated_at
		 FROM endpoints WHERE id = $1`, endpointID,
	).Scan(&e.ID, &e.OrganizationID, &e.ProjectID, &e.Name, &e.URL, &sealed, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapError(err, models.ErrEndpointNotFound)
	}

	e.HasAuthToken = len(sealed) > 0

	e.AuthToken, err = s.openSecret(ctx, organizationID, sealed)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpointID, err)
	}

	return &e, nil
}

// Create registers an endpoint.
func (s *EndpointStore) Create(ctx context.Context, id tenant.Identity, req models.CreateEndpointRequest) (*models.Endpoint, error) {
	sealed, err := s.sealSecret(ctx, id.OrganizationID, req.AuthToken)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if err := ensureVisible(ctx, tx, "projects", req.ProjectID, models.ErrProjectNotFound); err != nil {
		return nil, err
	}

	e, err := scanEndpoint(tx.QueryRow(ctx,
		`INSERT INTO endpoints (organization_id, project_id, name, url, auth_token)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+endpointColumns,
		id.OrganizationID, req.ProjectID, req.Name, req.URL, sealed))
	if err != nil {
		return nil, fmt.Errorf("inserting endpoint: %w", mapError(err, models.ErrEndpointNotFound))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create endpoint: %w", err)
	}

	return &e, nil
}

// Update applies a partial update. An empty AuthToken clears the credential.
func (s *EndpointStore) Update(
	ctx context.Context,
	id tenant.Identity,
	endpointID string,
	req models.UpdateEndpointRequest,
) (*models.Endpoint, error) {
	var (
		setToken bool
		sealed   []byte
	)

	if req.AuthToken != nil {
		setToken = true

		var err error
		if sealed, err = s.sealSecret(ctx, id.OrganizationID, *req.AuthToken); err != nil {
			return nil, err
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	e, err := scanEndpoint(tx.QueryRow(ctx,
		`UPDATE endpoints SET
			name = COALESCE($2, name),
			url = COALESCE($3, url),
			auth_token = CASE WHEN $4 THEN $5 ELSE auth_token END,
			updated_at = now()
		 WHERE id = $1 AND organization_id = $6 RETURNING `+endpointColumns,
		endpointID, req.Name, req.URL, setToken, sealed, id.OrganizationID))
	if err != nil {
		return nil, mapError(err, models.ErrEndpointNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update endpoint: %w", err)
	}

	return &e, nil
}

// Delete removes an endpoint and its runs.
func (s *EndpointStore) Delete(ctx context.Context, id tenant.Identity, endpointID string) error {
	return deleteByID(ctx, &s.Base, id, "endpoints", endpointID, models.ErrEndpointNotFound)
}
