package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TestStore is the data-access interface TestService depends on.
type TestStore interface {
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Test], error)
	Get(ctx context.Context, id tenant.Identity, testID string) (*models.Test, error)
	Create(ctx context.Context, id tenant.Identity, req models.CreateTestRequest) (*models.Test, error)
	Update(ctx context.Context, id tenant.Identity, testID string, req models.UpdateTestRequest) (*models.Test, error)
	Delete(ctx context.Context, id tenant.Identity, testID string) error
}

var _ domain.TestService = (*TestService)(nil)

// TestService wraps TestStore with auditing.
type TestService struct {
	store       TestStore
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewTestService creates a TestService.
func NewTestService(store TestStore, auditWorker AuditEnqueuer, log *logrus.Logger) *TestService {
	return &TestService{store: store, auditWorker: auditWorker, log: log}
}

func (s *TestService) ListTests(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Test], error) {
	return s.store.List(ctx, id, p)
}

func (s *TestService) GetTest(ctx context.Context, id tenant.Identity, testID string) (*models.Test, error) {
	return s.store.Get(ctx, id, testID)
}

func (s *TestService) CreateTest(ctx context.Context, id tenant.Identity, req models.CreateTestRequest) (*models.Test, error) {
	t, err := s.store.Create(ctx, id, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "test.create", "test", t.ID, map[string]any{"category": t.Category})

	return t, nil
}

func (s *TestService) UpdateTest(ctx context.Context, id tenant.Identity, testID string, req models.UpdateTestRequest) (*models.Test, error) {
	t, err := s.store.Update(ctx, id, testID, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "test.update", "test", t.ID, nil)

	return t, nil
}

func (s *TestService) DeleteTest(ctx context.Context, id tenant.Identity, testID string) error {
	err := s.store.Delete(ctx, id, testID)
	if err == nil {
		auditAsync(ctx, s.auditWorker, id, "test.delete", "test", testID, nil)
	}
	return err
}
