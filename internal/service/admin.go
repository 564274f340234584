package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// OrganizationLister lists every organization under a bypass.
type OrganizationLister interface {
	ListAll(ctx context.Context, id tenant.Identity, bypass dbpool.Bypass, p models.ListParams) (models.Page[models.Organization], error)
}

// Compile-time check: *AdminService must satisfy domain.AdminService.
var _ domain.AdminService = (*AdminService)(nil)

// AdminService runs cross-organization reads for superusers. Each call
// re-checks the caller and obtains a fresh bypass; none is kept.
type AdminService struct {
	orgs        OrganizationLister
	superusers  dbpool.SuperuserChecker
	auditWorker AuditEnqueuer
	log         *logrus.Logger
}

// NewAdminService creates an AdminService.
func NewAdminService(orgs OrganizationLister, superusers dbpool.SuperuserChecker, auditWorker AuditEnqueuer, log *logrus.Logger) *AdminService {
	return &AdminService{orgs: orgs, superusers: superusers, auditWorker: auditWorker, log: log}
}

// ListOrganizations lists all organizations. Callers that are not
// superusers get an AuthorizationError.
func (s *AdminService) ListOrganizations(
	ctx context.Context, id tenant.Identity, p models.ListParams,
) (models.Page[models.Organization], error) {
	bypass, err := dbpool.GrantBypass(ctx, s.superusers, id)
	if err != nil {
		return models.Page[models.Organization]{}, err
	}

	s.log.WithFields(logrus.Fields{
		"organization_id": id.OrganizationID,
		"user_id":         id.UserID,
	}).Info("admin.list_organizations")

	auditAsync(ctx, s.auditWorker, id, models.AuditBypassGranted, "organization", "*", map[string]any{"operation": "list_organizations"})

	return s.orgs.ListAll(ctx, id, bypass, p)
}
