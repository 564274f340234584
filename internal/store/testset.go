package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const testSetColumns = `id, organization_id, project_id, name, description, created_by, created_at, updated_at`

var testSetSortColumns = []string{"created_at", "updated_at", "name"}

func scanTestSet(row pgx.Row) (models.TestSet, error) {
	var ts models.TestSet
	err := row.Scan(&ts.ID, &ts.OrganizationID, &ts.ProjectID, &ts.Name, &ts.Description,
		&ts.CreatedBy, &ts.CreatedAt, &ts.UpdatedAt)

	return ts, err
}

// TestSetStore handles test sets and their ordered membership.
type TestSetStore struct {
	Base
}

// NewTestSetStore creates a new TestSetStore.
func NewTestSetStore(base Base) *TestSetStore {
	return &TestSetStore{Base: base}
}

// List returns a page of test sets. Membership is not loaded.
func (s *TestSetStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestSet], error) {
	if err := p.Normalize(testSetSortColumns); err != nil {
		return models.Page[models.TestSet]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.TestSet]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "test_sets", testSetColumns, id.OrganizationID, p, scanTestSet)
}

// Get returns a test set with its member ids in order.
func (s *TestSetStore) Get(ctx context.Context, id tenant.Identity, setID string) (*models.TestSet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return s.getTx(ctx, tx, setID)
}

func (s *TestSetStore) getTx(ctx context.Context, tx pgx.Tx, setID string) (*models.TestSet, error) {
	ts, err := scanTestSet(tx.QueryRow(ctx, "SELECT "+testSetColumns+" FROM test_sets WHERE id = $1", setID))
	if err != nil {
		return nil, mapError(err, models.ErrTestSetNotFound)
	}

	rows, err := tx.Query(ctx,
		"SELECT test_id FROM test_set_tests WHERE test_set_id = $1 ORDER BY position", setID)
	if err != nil {
		return nil, fmt.Errorf("loading test set members: %w", err)
	}

	ts.TestIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning test set members: %w", err)
	}

	return &ts, nil
}

// ListTestsTx returns the set's tests in membership order inside an
// existing tenant transaction.
func (s *TestSetStore) ListTestsTx(ctx context.Context, tx pgx.Tx, setID string) ([]models.Test, error) {
	if err := ensureVisible(ctx, tx, "test_sets", &setID, models.ErrTestSetNotFound); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT t.id, t.organization_id, t.project_id, t.prompt, t.expected_output, t.category,
			t.created_by, t.created_at, t.updated_at
		 FROM test_set_tests m JOIN tests t ON t.id = m.test_id
		 WHERE m.test_set_id = $1 ORDER BY m.position`, setID)
	if err != nil {
		return nil, fmt.Errorf("listing test set tests: %w", err)
	}

	tests, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.Test, error) {
		return scanTest(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning test set tests: %w", err)
	}

	return tests, nil
}

// Create inserts a test set and its membership.
func (s *TestSetStore) Create(ctx context.Context, id tenant.Identity, req models.CreateTestSetRequest) (*models.TestSet, error) {
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

	ts, err := scanTestSet(tx.QueryRow(ctx,
		`INSERT INTO test_sets (organization_id, project_id, name, description, created_by)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+testSetColumns,
		id.OrganizationID, req.ProjectID, req.Name, req.Description, id.UserID))
	if err != nil {
		return nil, fmt.Errorf("inserting test set: %w", mapError(err, models.ErrTestSetNotFound))
	}

	if ts.TestIDs, err = replaceMembers(ctx, tx, id.OrganizationID, ts.ID, req.TestIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create test set: %w", err)
	}

	return &ts, nil
}

// Update applies a partial update. A non-nil TestIDs replaces membership.
func (s *TestSetStore) Update(
	ctx context.Context,
	id tenant.Identity,
	setID string,
	req models.UpdateTestSetRequest,
) (*models.TestSet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	_, err = tx.Exec(ctx,
		`UPDATE test_sets SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			updated_at = now()
		 WHERE id = $1 AND organization_id = $4`,
		setID, req.Name, req.Description, id.OrganizationID)
	if err != nil {
		return nil, mapError(err, models.ErrTestSetNotFound)
	}

	if req.TestIDs != nil {
		if err := ensureVisible(ctx, tx, "test_sets", &setID, models.ErrTestSetNotFound); err != nil {
			return nil, err
		}

		if _, err := replaceMembers(ctx, tx, id.OrganizationID, setID, *req.TestIDs); err != nil {
			return nil, err
		}
	}

	ts, err := s.getTx(ctx, tx, setID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update test set: %w", err)
	}

	return ts, nil
}

// Delete removes a test set and its membership rows.
func (s *TestSetStore) Delete(ctx context.Context, id tenant.Identity, setID string) error {
	return deleteByID(ctx, &s.Base, id, "test_sets", setID, models.ErrTestSetNotFound)
}

// replaceMembers rewrites a set's membership in the given order. Every test
// must be visible to the current organization; duplicates keep their first
// position.
func replaceMembers(ctx context.Context, tx pgx.Tx, organizationID, setID string, testIDs []string) ([]string, error) {
	ordered := make([]string, 0, len(testIDs))
	seen := make(map[string]struct{}, len(testIDs))

	for _, tid := range testIDs {
		if _, ok := seen[tid]; ok {
			continue
		}

		seen[tid] = struct{}{}
		ordered = append(ordered, tid)
	}

	var visible int
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM tests WHERE id = ANY($1)", ordered).Scan(&visible); err != nil {
		return nil, mapError(err, models.ErrTestNotFound)
	}

	if visible != len(ordered) {
		return nil, fmt.Errorf("%w: %d of %d tests not found", models.ErrTestNotFound, len(ordered)-visible, len(ordered))
	}

	if _, err := tx.Exec(ctx, "DELETE FROM test_set_tests WHERE test_set_id = $1", setID); err != nil {
		return nil, fmt.Errorf("clearing test set members: %w", err)
	}

	batch := &pgx.Batch{}
	for pos, tid := range ordered {
		batch.Queue(
			"INSERT INTO test_set_tests (organization_id, test_set_id, test_id, position) VALUES ($1, $2, $3, $4)",
			organizationID, setID, tid, pos)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("inserting test set members: %w", mapError(err, models.ErrTestNotFound))
	}

	return ordered, nil
}
