package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// EndpointStore is the data-access interface EndpointService depends on.
type EndpointStore interface {
	List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Endpoint], error)
	Get(ctx context.Context, id tenant.Identity, endpointID string) (*models.Endpoint, error)
	Create(ctx context.Context, id tenant.Identity, req models.CreateEndpointRequest) (*models.Endpoint, error)
	Update(ctx context.Context, id tenant.Identity, endpointID string, req models.UpdateEndpointRequest) (*models.Endpoint, error)
	Delete(ctx context.Context, id tenant.Identity, endpointID string) error
}

var _ domain.EndpointService = (*EndpointService)(nil)

// EndpointService wraps EndpointStore with auditing. Auth tokens never
// appear in audit details.
type EndpointService struct {
	store       EndpointStore
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewEndpointService creates an EndpointService.
func NewEndpointService(store EndpointStore, auditWorker AuditEnqueuer, log *logrus.Logger) *EndpointService {
	return &EndpointService{store: store, auditWorker: auditWorker, log: log}
}

func (s *EndpointService) ListEndpoints(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Endpoint], error) {
	return s.store.List(ctx, id, p)
}

func (s *EndpointService) GetEndpoint(ctx context.Context, id tenant.Identity, endpointID string) (*models.Endpoint, error) {
	return s.store.Get(ctx, id, endpointID)
}

func (s *EndpointService) CreateEndpoint(ctx context.Context, id tenant.Identity, req models.CreateEndpointRequest) (*models.Endpoint, error) {
	ep, err := s.store.Create(ctx, id, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "endpoint.create", "endpoint", ep.ID, map[string]any{"url": ep.URL})

	return ep, nil
}

func (s *EndpointService) UpdateEndpoint(
	ctx context.Context, id tenant.Identity, endpointID string, req models.UpdateEndpointRequest,
) (*models.Endpoint, error) {
	ep, err := s.store.Update(ctx, id, endpointID, req)
	if err != nil {
		return nil, err
	}

	auditAsync(ctx, s.auditWorker, id, "endpoint.update", "endpoint", ep.ID, map[string]any{
		"url":                ep.URL,
		"auth_token_changed": req.AuthToken != nil,
	})

	return ep, nil
}

func (s *EndpointService) DeleteEndpoint(ctx context.Context, id tenant.Identity, endpointID string) error {
	err := s.store.Delete(ctx, id, endpointID)
	if err == nil {
		auditAsync(ctx, s.auditWorker, id, "endpoint.delete", "endpoint", endpointID, nil)
	}
	return err
}
