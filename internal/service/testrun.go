package service

import (
	"context"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TestRunReader is the data-access interface TestRunService depends on.
type TestRunReader interface {
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestRun], error)
	Get(ctx context.Context, id tenant.Identity, runID string) (*models.TestRun, error)
	Results(ctx context.Context, id tenant.Identity, runID string) ([]models.TestResult, error)
}

var _ domain.TestRunService = (*TestRunService)(nil)

// TestRunService reads test runs and their results.
type TestRunService struct {
	store TestRunReader
}

// NewTestRunService creates a TestRunService.
func NewTestRunService(store TestRunReader) *TestRunService {
	return &TestRunService{store: store}
}

func (s *TestRunService) ListTestRuns(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestRun], error) {
	return s.store.List(ctx, id, p)
}

// GetTestRun returns a run with its results.
func (s *TestRunService) GetTestRun(ctx context.Context, id tenant.Identity, runID string) (*models.TestRunDetail, error) {
	run, err := s.store.Get(ctx, id, runID)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Results(ctx, id, runID)
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []models.TestResult{}
	}

	return &models.TestRunDetail{TestRun: *run, Results: results}, nil
}
