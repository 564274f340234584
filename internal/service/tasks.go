package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Task names of the test execution pipeline.
const (
	TaskExecuteTestSet = "test_set.execute"
	TaskExecuteTest    = "test.execute"
	TaskCollectRun     = "test_run.collect"
)

// TestSetTxStore reads test set members inside a tenant transaction.
type TestSetTxStore interface {
	ListTestsTx(ctx context.Context, tx pgx.Tx, setID string) ([]models.Test, error)
}

// TestTxStore reads tests inside a tenant transaction.
type TestTxStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, testID string) (*models.Test, error)
}

// EndpointTxStore reads endpoints with their secrets inside a tenant transaction.
type EndpointTxStore interface {
	GetWithSecretTx(ctx context.Context, tx pgx.Tx, organizationID, endpointID string) (*models.Endpoint, error)
}

// RunTxStore updates test runs inside a tenant transaction.
type RunTxStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, runID string) (*models.TestRun, error)
	MarkRunningTx(ctx context.Context, tx pgx.Tx, runID string) error
	RecordResultTx(ctx context.Context, tx pgx.Tx, res *models.TestResult) error
	FinalizeTx(ctx context.Context, tx pgx.Tx, runID string) (*models.TestRun, error)
	FailTx(ctx context.Context, tx pgx.Tx, runID, status string) (*models.TestRun, error)
}

// TestingTasksConfig holds the dependencies of TestingTasks.
type TestingTasksConfig struct {
	DB        task.TxRunner
	TestSets  TestSetTxStore
	Tests     TestTxStore
	Endpoints EndpointTxStore
	Runs      RunTxStore
	Submitter TaskSubmitter
	Invoker   EndpointInvoker
	Log       *logrus.Logger
}

// TestingTasks implements the test execution pipeline: test_set.execute
// fans out one test.execute per test, joined by test_run.collect.
type TestingTasks struct {
	db        task.TxRunner
	sets      TestSetTxStore
	tests     TestTxStore
	endpoints EndpointTxStore
	runs      RunTxStore
	submitter TaskSubmitter
	invoker   EndpointInvoker
	log       *logrus.Logger
}

// NewTestingTasks creates TestingTasks.
func NewTestingTasks(cfg TestingTasksConfig) *TestingTasks {
	return &TestingTasks{
		db:        cfg.DB,
		sets:      cfg.TestSets,
		tests:     cfg.Tests,
		endpoints: cfg.Endpoints,
		runs:      cfg.Runs,
		submitter: cfg.Submitter,
		invoker:   cfg.Invoker,
		log:       cfg.Log,
	}
}

// Register installs the handlers and the hook that settles runs whose
// group was abandoned.
func (t *TestingTasks) Register(reg *task.Registry, coordinator *task.GroupCoordinator) {
	reg.Register(TaskExecuteTestSet, t.executeTestSet)
	reg.Register(TaskExecuteTest, t.executeTest)
	reg.Register(TaskCollectRun, task.WithTenantTx(t.db, t.collectRun))

	if coordinator != nil {
		coordinator.OnExhausted(TaskCollectRun, t.abandonRun)
	}
}

type runArgs struct {
	TestRunID string `json:"test_run_id"`
}

type testArgs struct {
	TestRunID string `json:"test_run_id"`
	TestID    string `json:"test_id"`
}

type collectArgs struct {
	TestRunID string            `json:"test_run_id"`
	GroupID   string            `json:"group_id"`
	Results   []json.RawMessage `json:"results"`
}

type preparedRun struct {
	run     *models.TestRun
	testIDs []string
}

func decodeArgs(msg *task.Message, v any) error {
	if err := msg.DecodeArgs(v); err != nil {
		return task.Permanent(err)
	}
	return nil
}

// prepareRun moves a queued run to running and lists its tests.
func (t *TestingTasks) prepareRun(ctx context.Context, tx pgx.Tx, msg *task.Message) (*preparedRun, error) {
	var args runArgs
	if err := decodeArgs(msg, &args); err != nil {
		return nil, err
	}

	run, err := t.runs.GetTx(ctx, tx, args.TestRunID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, task.Permanent(err)
		}
		return nil, err
	}

	if run.Status != models.RunQueued {
		return nil, task.Permanent(fmt.Errorf("test run %s is already %s", run.ID, run.Status))
	}

	tests, err := t.sets.ListTestsTx(ctx, tx, run.TestSetID)
	if err != nil {
		return nil, err
	}

	if err := t.runs.MarkRunningTx(ctx, tx, run.ID); err != nil {
		return nil, err
	}

	ids := make([]string, len(tests))
	for i := range tests {
		ids[i] = tests[i].ID
	}

	return &preparedRun{run: run, testIDs: ids}, nil
}

func (t *TestingTasks) executeTestSet(ctx context.Context, msg *task.Message) (any, error) {
	out, err := task.WithTenantTx(t.db, t.prepareRun)(ctx, msg)
	if err != nil {
		return nil, err
	}

	p := out.(*preparedRun)
	id := tenant.IdentityFromContext(ctx)

	members := make([]task.Signature, len(p.testIDs))
	for i, testID := range p.testIDs {
		members[i] = task.Signature{
			Name: TaskExecuteTest,
			Args: map[string]any{"test_run_id": p.run.ID, "test_id": testID},
		}
	}

	g, err := t.submitter.SubmitGroup(ctx, members,
		task.Signature{Name: TaskCollectRun, Args: map[string]any{"test_run_id": p.run.ID}},
		task.WithIdentity(id),
	)
	if err != nil {
		// The run already left queued, so a retry could not restart it.
		ferr := t.db.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
			_, err := t.runs.FailTx(ctx, tx, p.run.ID, models.RunFailed)
			return err
		})
		if ferr != nil {
			t.log.WithError(ferr).WithField("test_run_id", p.run.ID).Error("marking run failed")
		}

		return nil, task.Permanent(fmt.Errorf("submitting tests of run %s: %w", p.run.ID, err))
	}

	t.log.WithFields(logrus.Fields{
		"test_run_id": p.run.ID,
		"group_id":    g.ID,
		"tests":       len(members),
	}).Info("test run started")

	return map[string]any{"test_run_id": p.run.ID, "group_id": g.ID, "tests": len(members)}, nil
}

type testCase struct {
	runID    string
	test     *models.Test
	endpoint *models.Endpoint
}

func (t *TestingTasks) loadTestCase(ctx context.Context, tx pgx.Tx, msg *task.Message) (*testCase, error) {
	var args testArgs
	if err := decodeArgs(msg, &args); err != nil {
		return nil, err
	}

	run, err := t.runs.GetTx(ctx, tx, args.TestRunID)
	if err != nil {
		return nil, permanentIfNotFound(err)
	}

	test, err := t.tests.GetTx(ctx, tx, args.TestID)
	if err != nil {
		return nil, permanentIfNotFound(err)
	}

	ep, err := t.endpoints.GetWithSecretTx(ctx, tx, run.OrganizationID, run.EndpointID)
	if err != nil {
		return nil, permanentIfNotFound(err)
	}

	return &testCase{runID: run.ID, test: test, endpoint: ep}, nil
}

func permanentIfNotFound(err error) error {
	if models.IsNotFound(err) {
		return task.Permanent(err)
	}
	return err
}

// executeTest calls the endpoint outside any transaction so no connection
// is held during the call. A test passes when the output contains the
// expected output. When the call fails for the last time the error is
// recorded as the test's result before the task fails.
func (t *TestingTasks) executeTest(ctx context.Context, msg *task.Message) (any, error) {
	out, err := task.WithTenantTx(t.db, t.loadTestCase)(ctx, msg)
	if err != nil {
		return nil, err
	}

	tc := out.(*testCase)

	start := time.Now()
	output, callErr := t.invoker.Invoke(ctx, tc.endpoint, tc.test.Prompt)
	latency := time.Since(start).Milliseconds()

	if callErr != nil && !task.IsPermanent(callErr) && !msg.LastAttempt() {
		return nil, callErr
	}

	res := &models.TestResult{
		OrganizationID: tc.test.OrganizationID,
		TestRunID:      tc.runID,
		TestID:         tc.test.ID,
		Output:         output,
		LatencyMS:      latency,
	}

	switch {
	case callErr != nil:
		res.Status = models.ResultError
		res.Error = callErr.Error()
	case strings.Contains(output, tc.test.ExpectedOutput):
		res.Status = models.ResultPassed
	default:
		res.Status = models.ResultFailed
	}

	id := tenant.IdentityFromContext(ctx)

	err = t.db.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		return t.runs.RecordResultTx(ctx, tx, res)
	})
	if err != nil {
		return nil, err
	}

	if callErr != nil {
		return nil, task.Permanent(callErr)
	}

	return map[string]any{"test_id": res.TestID, "status": res.Status, "latency_ms": res.LatencyMS}, nil
}

// collectRun settles the run once every test task is terminal.
func (t *TestingTasks) collectRun(ctx context.Context, tx pgx.Tx, msg *task.Message) (map[string]any, error) {
	var args collectArgs
	if err := decodeArgs(msg, &args); err != nil {
		return nil, err
	}

	missing := 0
	for _, r := range args.Results {
		if len(r) == 0 || string(r) == "null" {
			missing++
		}
	}

	run, err := t.runs.FinalizeTx(ctx, tx, args.TestRunID)
	if err != nil {
		return nil, permanentIfNotFound(err)
	}

	t.log.WithFields(logrus.Fields{
		"test_run_id":    run.ID,
		"status":         run.Status,
		"passed":         run.Passed,
		"failed":         run.Failed,
		"errored":        run.Errored,
		"missing_result": missing,
	}).Info("test run finished")

	return map[string]any{
		"test_run_id": run.ID,
		"status":      run.Status,
		"passed":      run.Passed,
		"failed":      run.Failed,
		"errored":     run.Errored,
	}, nil
}

// abandonRun settles a run whose tests did not all finish in time.
func (t *TestingTasks) abandonRun(ctx context.Context, g *task.Group, callbackArgs map[string]any) error {
	runID, _ := callbackArgs["test_run_id"].(string)
	if runID == "" {
		return fmt.Errorf("group %s: %w: missing test_run_id", g.ID, models.ErrInvalidID)
	}

	return t.db.WithTenant(ctx, tenant.IdentityFromContext(ctx), func(ctx context.Context, tx pgx.Tx) error {
		run, err := t.runs.FinalizeTx(ctx, tx, runID)
		if err != nil {
			return err
		}

		if run.Status == models.RunCompleted {
			return nil
		}

		_, err = t.runs.FailTx(ctx, tx, runID, models.RunPartialFailure)
		return err
	})
}
