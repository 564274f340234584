package service

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// AuditQueryStore is the audit table access AuditService needs.
type AuditQueryStore = domain.AuditService

// Auditor writes single audit entries.
type Auditor = domain.Auditor

var _ domain.AuditService = (*AuditService)(nil)

// AuditService exposes an organization's audit log. Writes normally arrive
// through an AuditWorker; reads and purges come from the API.
type AuditService struct {
	store AuditQueryStore
	log   *logrus.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(store AuditQueryStore, log *logrus.Logger) *AuditService {
	return &AuditService{store: store, log: log}
}

func (s *AuditService) RecordAudit(
	ctx context.Context, id tenant.Identity, action, entityType, entityID string, detail map[string]any,
) error {
	return s.store.RecordAudit(ctx, id, action, entityType, entityID, detail)
}

func (s *AuditService) QueryAudit(
	ctx context.Context, id tenant.Identity, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	return s.store.QueryAudit(ctx, id, opts)
}

// PurgeOldEntries deletes the organization's entries older than
// retentionDays. The purge itself is then recorded synchronously, so the
// log always shows who trimmed it and when.
func (s *AuditService) PurgeOldEntries(ctx context.Context, id tenant.Identity, retentionDays int) (int, error) {
	deleted, err := s.store.PurgeOldEntries(ctx, id, retentionDays)
	if err != nil {
		return deleted, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"organization_id": id.OrganizationID,
		"user_id":         id.UserID,
		"retention_days":  retentionDays,
		"deleted":         deleted,
	})
	entry.Info("audit.purge")

	err = s.store.RecordAudit(ctx, id, models.AuditLogPurged, "audit_log", strconv.Itoa(retentionDays), map[string]any{
		"deleted":        deleted,
		"retention_days": retentionDays,
	})
	if err != nil {
		entry.WithError(err).Warn("recording audit purge")
	}

	return deleted, nil
}
