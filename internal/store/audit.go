package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	auditColumns = "id, organization_id, action, entity_type, entity_id, actor, request_id, detail, created_at"

	defaultAuditLimit = 50

	// purgeBatchSize caps the rows removed per transaction.
	purgeBatchSize = 5000
)

// AuditStore reads and writes the organization-scoped audit_log table.
type AuditStore struct {
	Base
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(base Base) *AuditStore {
	return &AuditStore{Base: base}
}

// RecordAudit appends an entry to id's audit log. The request id on ctx,
// if any, is stored with it.
func (s *AuditStore) RecordAudit(
	ctx context.Context,
	id tenant.Identity,
	action, entityType, entityID string,
	detail map[string]any,
) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	requestID := tenant.RequestIDFromContext(ctx)

	return s.Pool.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_log (organization_id, action, entity_type, entity_id, actor, request_id, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id.OrganizationID, action, entityType, entityID, id.UserID, requestID, detailJSON,
		)
		if err != nil {
			return fmt.Errorf("inserting audit entry: %w", err)
		}

		return nil
	})
}

// auditFilter accumulates WHERE conditions with numbered placeholders.
type auditFilter struct {
	conds []string
	args  []any
}

func (f *auditFilter) eq(column string, value any) {
	f.args = append(f.args, value)
	f.conds = append(f.conds, column+" = $"+strconv.Itoa(len(f.args)))
}

func (f *auditFilter) add(cond string, value any) {
	f.args = append(f.args, value)
	f.conds = append(f.conds, cond+" $"+strconv.Itoa(len(f.args)))
}

// next returns the placeholder for the next argument.
func (f *auditFilter) next(value any) string {
	f.args = append(f.args, value)
	return "$" + strconv.Itoa(len(f.args))
}

func (f *auditFilter) where() string {
	return "WHERE " + strings.Join(f.conds, " AND ")
}

// newAuditFilter builds the filter for opts. The organization condition is
// always first so RLS is never the only guard.
func newAuditFilter(organizationID string, opts models.AuditQueryOpts) *auditFilter {
	f := &auditFilter{}
	f.eq("organization_id", organizationID)

	for _, c := range []struct{ column, value string }{
		{"entity_type", opts.EntityType},
		{"entity_id", opts.EntityID},
		{"action", opts.Action},
		{"request_id", opts.RequestID},
	} {
		if c.value != "" {
			f.eq(c.column, c.value)
		}
	}

	if opts.Since != nil {
		f.add("created_at >=", *opts.Since)
	}

	return f
}

// QueryAudit returns the newest entries matching opts and whether more
// entries follow the returned page.
func (s *AuditStore) QueryAudit(
	ctx context.Context, id tenant.Identity, opts models.AuditQueryOpts,
) ([]models.AuditEntry, bool, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	f := newAuditFilter(id.OrganizationID, opts)
	query := "SELECT " + auditColumns + " FROM audit_log " + f.where() + " ORDER BY created_at DESC, id DESC"
	query += " LIMIT " + f.next(limit+1)
	query += " OFFSET " + f.next(opts.Offset)

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	rows, err := tx.Query(ctx, query, f.args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, s.scanAuditEntry)
	if err != nil {
		return nil, false, fmt.Errorf("reading audit log: %w", err)
	}

	if len(entries) > limit {
		return entries[:limit], true, nil
	}

	return entries, false, nil
}

// scanAuditEntry scans one row. An undecodable detail is logged and left nil
// rather than failing the whole page.
func (s *AuditStore) scanAuditEntry(row pgx.CollectableRow) (models.AuditEntry, error) {
	var (
		e          models.AuditEntry
		detailJSON []byte
	)

	err := row.Scan(&e.ID, &e.OrganizationID, &e.Action, &e.EntityType, &e.EntityID,
		&e.Actor, &e.RequestID, &detailJSON, &e.CreatedAt)
	if err != nil {
		return e, err
	}

	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			s.Log.WithError(err).WithField("audit_id", e.ID).Warn("undecodable audit detail")
		}
	}

	return e, nil
}

// PurgeOldEntries removes the organization's entries older than
// retentionDays, purgeBatchSize rows per transaction, and returns the
// number removed.
func (s *AuditStore) PurgeOldEntries(
	ctx context.Context, id tenant.Identity, retentionDays int,
) (int, error) {
	var total int

	for {
		n, err := s.purgeBatch(ctx, id, retentionDays)
		total += n
		if err != nil {
			return total, err
		}

		if n < purgeBatchSize {
			return total, nil
		}
	}
}

func (s *AuditStore) purgeBatch(ctx context.Context, id tenant.Identity, retentionDays int) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int

	err := s.Pool.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM audit_log WHERE id IN (
				SELECT id FROM audit_log
				WHERE organization_id = $1 AND created_at < now() - make_interval(days => $2)
				LIMIT $3
			)`,
			id.OrganizationID, retentionDays, purgeBatchSize,
		)
		if err != nil {
			return fmt.Errorf("purging audit entries: %w", err)
		}

		n = int(tag.RowsAffected())

		return nil
	})

	return n, err
}
