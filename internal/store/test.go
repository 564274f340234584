package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const testColumns = `id, organization_id, project_id, prompt, expected_output, category, created_by, created_at, updated_at`

var testSortColumns = []string{"created_at", "updated_at", "category"}

func scanTest(row pgx.Row) (models.Test, error) {
	var t models.Test
	err := row.Scan(&t.ID, &t.OrganizationID, &t.ProjectID, &t.Prompt, &t.ExpectedOutput,
		&t.Category, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)

	return t, err
}

// TestStore handles test CRUD.
type TestStore struct {
	Base
}

// NewTestStore creates a new TestStore.
func NewTestStore(base Base) *TestStore {
	return &TestStore{Base: base}
}

// List returns a page of the organization's tests.
func (s *TestStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Test], error) {
	if err := p.Normalize(testSortColumns); err != nil {
		return models.Page[models.Test]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.Test]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "tests", testColumns, id.OrganizationID, p, scanTest)
}

// Get returns a test by id.
func (s *TestStore) Get(ctx context.Context, id tenant.Identity, testID string) (*models.Test, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return s.GetTx(ctx, tx, testID)
}

// GetTx returns a test inside an existing tenant transaction.
func (s *TestStore) GetTx(ctx context.Context, tx pgx.Tx, testID string) (*models.Test, error) {
	t, err := scanTest(tx.QueryRow(ctx, "SELECT "+testColumns+" FROM tests WHERE id = $1", testID))
	if err != nil {
		return nil, mapError(err, models.ErrTestNotFound)
	}

	return &t, nil
}

// Create inserts a test.
func (s *TestStore) Create(ctx context.Context, id tenant.Identity, req models.CreateTestRequest) (*models.Test, error) {
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

	t, err := scanTest(tx.QueryRow(ctx,
		`INSERT INTO tests (organization_id, project_id, prompt, expected_output, category, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+testColumns,
		id.OrganizationID, req.ProjectID, req.Prompt, req.ExpectedOutput, req.Category, id.UserID))
	if err != nil {
		return nil, fmt.Errorf("inserting test: %w", mapError(err, models.ErrTestNotFound))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create test: %w", err)
	}

	return &t, nil
}

// Update applies a partial update.
func (s *TestStore) Update(ctx context.Context, id tenant.Identity, testID string, req models.UpdateTestRequest) (*models.Test, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	t, err := scanTest(tx.QueryRow(ctx,
		`UPDATE tests SET
			prompt = COALESCE($2, prompt),
			expected_output = COALESCE($3, expected_output),
			category = COALESCE($4, category),
			updated_at = now()
		 WHERE id = $1 AND organization_id = $5 RETURNING `+testColumns,
		testID, req.Prompt, req.ExpectedOutput, req.Category, id.OrganizationID))
	if err != nil {
		return nil, mapError(err, models.ErrTestNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update test: %w", err)
	}

	return &t, nil
}

// Delete removes a test and drops it from any test set.
func (s *TestStore) Delete(ctx context.Context, id tenant.Identity, testID string) error {
	return deleteByID(ctx, &s.Base, id, "tests", testID, models.ErrTestNotFound)
}
