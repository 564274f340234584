// Package service provides business logic between API handlers and data stores.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// ProjectStore is the data-access interface ProjectService depends on.
type ProjectStore interface {
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error)
	Get(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error)
	Create(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error)
	Update(ctx context.Context, id tenant.Identity, projectID string, req models.UpdateProjectRequest) (*models.Project, error)
	Delete(ctx context.Context, id tenant.Identity, projectID string) error
}

// Compile-time check: *ProjectService must satisfy domain.ProjectService.
var _ domain.ProjectService = (*ProjectService)(nil)

// ProjectService wraps ProjectStore with auditing.
type ProjectService struct {
	store       ProjectStore
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewProjectService creates a ProjectService.
func NewProjectService(store ProjectStore, auditWorker AuditEnqueuer, log *logrus.Logger) *ProjectService {
	return &ProjectService{store: store, auditWorker: auditWorker, log: log}
}

// ListProjects returns a page of the organization's projects (pass-through).
func (s *ProjectService) ListProjects(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error) {
	return s.store.List(ctx, id, p)
}

// GetProject returns a single project (pass-through).
func (s *ProjectService) GetProject(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error) {
	return s.store.Get(ctx, id, projectID)
}

// CreateProject creates a project.
func (s *ProjectService) CreateProject(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error) {
	p, err := s.store.Create(ctx, id, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "project.create", "project", p.ID, map[string]any{"name": p.Name})

	return p, nil
}

// UpdateProject applies a partial update.
func (s *ProjectService) UpdateProject(
	ctx context.Context, id tenant.Identity, projectID string, req models.UpdateProjectRequest,
) (*models.Project, error) {
	p, err := s.store.Update(ctx, id, projectID, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "project.update", "project", p.ID, nil)

	return p, nil
}

// DeleteProject removes a project.
func (s *ProjectService) DeleteProject(ctx context.Context, id tenant.Identity, projectID string) error {
	err := s.store.Delete(ctx, id, projectID)
	if err == nil {
		auditAsync(ctx, s.auditWorker, id, "project.delete", "project", projectID, nil)
	}
	return err
}
