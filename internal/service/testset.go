package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TestSetStore is the data-access interface TestSetService depends on.
type TestSetStore interface {
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestSet], error)
	Get(ctx context.Context, id tenant.Identity, setID string) (*models.TestSet, error)
	Create(ctx context.Context, id tenant.Identity, req models.CreateTestSetRequest) (*models.TestSet, error)
	Update(ctx context.Context, id tenant.Identity, setID string, req models.UpdateTestSetRequest) (*models.TestSet, error)
	Delete(ctx context.Context, id tenant.Identity, setID string) error
}

// RunCreator creates test runs and links them to their task.
type RunCreator interface {
	Create(ctx context.Context, id tenant.Identity, setID, endpointID string) (*models.TestRun, error)
	SetTaskID(ctx context.Context, id tenant.Identity, runID, taskID string) error
}

// TaskSubmitter enqueues tasks. *task.Submitter satisfies it.
type TaskSubmitter interface {
	Submit(ctx context.Context, name string, args map[string]any, opts ...task.SubmitOption) (*task.Message, error)
	SubmitGroup(ctx context.Context, members []task.Signature, callback task.Signature, opts ...task.SubmitOption) (*task.Group, error)
}

var _ domain.TestSetService = (*TestSetService)(nil)

// TestSetService wraps TestSetStore with auditing and starts executions.
type TestSetService struct {
	store       TestSetStore
	runs        RunCreator
	tasks       TaskSubmitter
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewTestSetService creates a TestSetService.
func NewTestSetService(store TestSetStore, runs RunCreator, tasks TaskSubmitter, auditWorker AuditEnqueuer, log *logrus.Logger) *TestSetService {
	return &TestSetService{store: store, runs: runs, tasks: tasks, auditWorker: auditWorker, log: log}
}

func (s *TestSetService) ListTestSets(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestSet], error) {
	return s.store.List(ctx, id, p)
}

func (s *TestSetService) GetTestSet(ctx context.Context, id tenant.Identity, setID string) (*models.TestSet, error) {
	return s.store.Get(ctx, id, setID)
}

func (s *TestSetService) CreateTestSet(ctx context.Context, id tenant.Identity, req models.CreateTestSetRequest) (*models.TestSet, error) {
	ts, err := s.store.Create(ctx, id, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "test_set.create", "test_set", ts.ID, map[string]any{"tests": len(ts.TestIDs)})

	return ts, nil
}

func (s *TestSetService) UpdateTestSet(
	ctx context.Context, id tenant.Identity, setID string, req models.UpdateTestSetRequest,
) (*models.TestSet, error) {
	ts, err := s.store.Update(ctx, id, setID, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "test_set.update", "test_set", ts.ID, map[string]any{"tests": len(ts.TestIDs)})

	return ts, nil
}

func (s *TestSetService) DeleteTestSet(ctx context.Context, id tenant.Identity, setID string) error {
	err := s.store.Delete(ctx, id, setID)
	if err == nil {
		auditAsync(ctx, s.auditWorker, id, "test_set.delete", "test_set", setID, nil)
	}
	return err
}

// ExecuteTestSet creates a queued run and submits the task that executes
// it. The task runs as the caller.
func (s *TestSetService) ExecuteTestSet(
	ctx context.Context, id tenant.Identity, setID string, req models.ExecuteTestSetRequest,
) (*models.ExecuteTestSetResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run, err := s.runs.Create(ctx, id, setID, req.EndpointID)
	if err != nil {
		return nil, err
	}

	msg, err := s.tasks.Submit(ctx, TaskExecuteTestSet, map[string]any{"test_run_id": run.ID}, task.WithIdentity(id))
	if err != nil {
		return nil, fmt.Errorf("submitting test set execution: %w", err)
	}

	if err := s.runs.SetTaskID(ctx, id, run.ID, msg.ID); err != nil {
		s.log.WithError(err).WithField("test_run_id", run.ID).Warn("linking run to task")
	}

	auditAsync(ctx, s.auditWorker, id, models.AuditRunStarted, "test_run", run.ID, map[string]any{
		"test_set_id": setID,
		"endpoint_id": req.EndpointID,
		"task_id":     msg.ID,
	})

	return &models.ExecuteTestSetResponse{TaskID: msg.ID, TestRunID: run.ID}, nil
}
