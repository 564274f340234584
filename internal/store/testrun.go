package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const testRunColumns = `id, organization_id, test_set_id, endpoint_id, status, task_id,
	total, passed, failed, errored, created_by, started_at, finished_at, created_at`

const testResultColumns = `id, organization_id, test_run_id, test_id, status, output, error, latency_ms, created_at`

var testRunSortColumns = []string{"created_at", "status"}

func scanTestRun(row pgx.Row) (models.TestRun, error) {
	var r models.TestRun
	err := row.Scan(&r.ID, &r.OrganizationID, &r.TestSetID, &r.EndpointID, &r.Status, &r.TaskID,
		&r.Total, &r.Passed, &r.Failed, &r.Errored, &r.CreatedBy, &r.StartedAt, &r.FinishedAt, &r.CreatedAt)

	return r, err
}

func scanTestResult(row pgx.Row) (models.TestResult, error) {
	var r models.TestResult
	err := row.Scan(&r.ID, &r.OrganizationID, &r.TestRunID, &r.TestID, &r.Status,
		&r.Output, &r.Error, &r.LatencyMS, &r.CreatedAt)

	return r, err
}

// TestRunStore handles test runs and their per-test results. The *Tx
// methods run inside a tenant transaction opened by a task.
type TestRunStore struct {
	Base
}

// NewTestRunStore creates a new TestRunStore.
func NewTestRunStore(base Base) *TestRunStore {
	return &TestRunStore{Base: base}
}

// Create inserts a queued run for a visible test set and endpoint.
func (s *TestRunStore) Create(ctx context.Context, id tenant.Identity, setID, endpointID string) (*models.TestRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	if err := ensureVisible(ctx, tx, "test_sets", &setID, models.ErrTestSetNotFound); err != nil {
		return nil, err
	}

	if err := ensureVisible(ctx, tx, "endpoints", &endpointID, models.ErrEndpointNotFound); err != nil {
		return nil, err
	}

	r, err := scanTestRun(tx.QueryRow(ctx,
		`INSERT INTO test_runs (organization_id, test_set_id, endpoint_id, status, total, created_by)
		 VALUES ($1, $2, $3, $4,
			(SELECT count(*) FROM test_set_tests WHERE test_set_id = $2), $5)
		 RETURNING `+testRunColumns,
		id.OrganizationID, setID, endpointID, models.RunQueued, id.UserID))
	if err != nil {
		return nil, fmt.Errorf("inserting test run: %w", mapError(err, models.ErrTestRunNotFound))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create test run: %w", err)
	}

	return &r, nil
}

// SetTaskID links the run to the task executing it.
func (s *TestRunStore) SetTaskID(ctx context.Context, id tenant.Identity, runID, taskID string) error {
	return s.Pool.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE test_runs SET task_id = $2 WHERE id = $1 AND organization_id = $3",
			runID, taskID, id.OrganizationID)
		if err != nil {
			return mapError(err, models.ErrTestRunNotFound)
		}

		if tag.RowsAffected() == 0 {
			return models.ErrTestRunNotFound
		}

		return nil
	})
}

// Get returns a run by id.
func (s *TestRunStore) Get(ctx context.Context, id tenant.Identity, runID string) (*models.TestRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return s.GetTx(ctx, tx, runID)
}

// GetTx returns a run inside an existing tenant transaction.
func (s *TestRunStore) GetTx(ctx context.Context, tx pgx.Tx, runID string) (*models.TestRun, error) {
	r, err := scanTestRun(tx.QueryRow(ctx, "SELECT "+testRunColumns+" FROM test_runs WHERE id = $1", runID))
	if err != nil {
		return nil, mapError(err, models.ErrTestRunNotFound)
	}

	return &r, nil
}

// List returns a page of the organization's runs.
func (s *TestRunStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestRun], error) {
	if err := p.Normalize(testRunSortColumns); err != nil {
		return models.Page[models.TestRun]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.TestRun]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "test_runs", testRunColumns, id.OrganizationID, p, scanTestRun)
}

// Results returns a run's per-test results.
func (s *TestRunStore) Results(ctx context.Context, id tenant.Identity, runID string) ([]models.TestResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	rows, err := tx.Query(ctx,
		"SELECT "+testResultColumns+" FROM test_results WHERE test_run_id = $1 ORDER BY created_at", runID)
	if err != nil {
		return nil, fmt.Errorf("listing test results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (models.TestResult, error) {
		return scanTestResult(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning test results: %w", err)
	}

	return results, nil
}

// MarkRunningTx moves a queued run to running. Runs already past queued
// are left alone so a retried task does not reset them.
func (s *TestRunStore) MarkRunningTx(ctx context.Context, tx pgx.Tx, runID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE test_runs SET status = $2, started_at = COALESCE(started_at, now())
		 WHERE id = $1 AND status = $3`+inScopeOrganization,
		runID, models.RunRunning, models.RunQueued)
	if err != nil {
		return fmt.Errorf("marking run running: %w", mapError(err, models.ErrTestRunNotFound))
	}

	return nil
}

// RecordResultTx upserts one test's result. A retried attempt overwrites
// the previous outcome.
func (s *TestRunStore) RecordResultTx(ctx context.Context, tx pgx.Tx, res *models.TestResult) error {
	row := tx.QueryRow(ctx,
		`INSERT INTO test_results (organization_id, test_run_id, test_id, status, output, error, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (test_run_id, test_id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			latency_ms = EXCLUDED.latency_ms
		 RETURNING `+testResultColumns,
		res.OrganizationID, res.TestRunID, res.TestID, res.Status, res.Output, res.Error, res.LatencyMS)

	saved, err := scanTestResult(row)
	if err != nil {
		return fmt.Errorf("recording test result: %w", mapError(err, models.ErrTestRunNotFound))
	}

	*res = saved

	return nil
}

// FinalizeTx aggregates recorded results into the run's counters and sets
// its terminal status. Tests without a result count as errored.
func (s *TestRunStore) FinalizeTx(ctx context.Context, tx pgx.Tx, runID string) (*models.TestRun, error) {
	run, err := s.GetTx(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	var passed, failed, errored int

	err = tx.QueryRow(ctx,
		`SELECT
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			count(*) FILTER (WHERE status = $4)
		 FROM test_results WHERE test_run_id = $1`,
		runID, models.ResultPassed, models.ResultFailed, models.ResultError,
	).Scan(&passed, &failed, &errored)
	if err != nil {
		return nil, fmt.Errorf("aggregating results: %w", err)
	}

	if missing := run.Total - passed - failed - errored; missing > 0 {
		errored += missing
	}

	return s.finish(ctx, tx, runID, runStatus(run.Total, passed+failed, errored), passed, failed, errored)
}

// FailTx marks a run failed without touching its counters.
func (s *TestRunStore) FailTx(ctx context.Context, tx pgx.Tx, runID, status string) (*models.TestRun, error) {
	r, err := scanTestRun(tx.QueryRow(ctx,
		`UPDATE test_runs SET status = $2, finished_at = now()
		 WHERE id = $1`+inScopeOrganization+` RETURNING `+testRunColumns,
		runID, status))
	if err != nil {
		return nil, mapError(err, models.ErrTestRunNotFound)
	}

	return &r, nil
}

func (s *TestRunStore) finish(
	ctx context.Context,
	tx pgx.Tx,
	runID, status string,
	passed, failed, errored int,
) (*models.TestRun, error) {
	r, err := scanTestRun(tx.QueryRow(ctx,
		`UPDATE test_runs SET status = $2, passed = $3, failed = $4, errored = $5, finished_at = now()
		 WHERE id = $1`+inScopeOrganization+` RETURNING `+testRunColumns,
		runID, status, passed, failed, errored))
	if err != nil {
		return nil, mapError(err, models.ErrTestRunNotFound)
	}

	return &r, nil
}

// runStatus picks the terminal status. A run is completed when every test
// produced a verdict, failed when none did, and partial otherwise.
func runStatus(total, judged, errored int) string {
	switch {
	case errored == 0:
		return models.RunCompleted
	case judged == 0 && total > 0:
		return models.RunFailed
	default:
		return models.RunPartialFailure
	}
}
