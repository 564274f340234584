package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const projectColumns = `id, organization_id, name, description, created_by, created_at, updated_at`

var projectSortColumns = []string{"created_at", "updated_at", "name"}

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)

	return p, err
}

// ProjectStore handles project CRUD.
type ProjectStore struct {
	Base
}

// NewProjectStore creates a new ProjectStore.
func NewProjectStore(base Base) *ProjectStore {
	return &ProjectStore{Base: base}
}

// List returns a page of the organization's projects.
func (s *ProjectStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error) {
	if err := p.Normalize(projectSortColumns); err != nil {
		return models.Page[models.Project]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.Project]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "projects", projectColumns, id.OrganizationID, p, scanProject)
}

// Get returns a project by id.
func (s *ProjectStore) Get(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	p, err := scanProject(tx.QueryRow(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", projectID))
	if err != nil {
		return nil, mapError(err, models.ErrProjectNotFound)
	}

	return &p, nil
}

// Create inserts a project owned by the caller.
func (s *ProjectStore) Create(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	p, err := scanProject(tx.QueryRow(ctx,
		`INSERT INTO projects (organization_id, name, description, created_by)
		 VALUES ($1, $2, $3, $4) RETURNING `+projectColumns,
		id.OrganizationID, req.Name, req.Description, id.UserID))
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", mapError(err, models.ErrProjectNotFound))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create project: %w", err)
	}

	return &p, nil
}

// Update applies a partial update.
func (s *ProjectStore) Update(
	ctx context.Context,
	id tenant.Identity,
	projectID string,
	req models.UpdateProjectRequest,
) (*models.Project, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	p, err := scanProject(tx.QueryRow(ctx,
		`UPDATE projects SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			updated_at = now()
		 WHERE id = $1 AND organization_id = $4 RETURNING `+projectColumns,
		projectID, req.Name, req.Description, id.OrganizationID))
	if err != nil {
		return nil, mapError(err, models.ErrProjectNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update project: %w", err)
	}

	return &p, nil
}

// Delete removes a project. Tests, test sets and endpoints keep existing
// with their project reference cleared.
func (s *ProjectStore) Delete(ctx context.Context, id tenant.Identity, projectID string) error {
	return deleteByID(ctx, &s.Base, id, "projects", projectID, models.ErrProjectNotFound)
}
