package store_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/store"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func TestRecordAndQuery(t *testing.T) {
	base, id := setupTestBase(t, false)
	as := store.NewAuditStore(base)
	ctx := context.Background()

	err := as.RecordAudit(ctx, id, models.AuditTokenCreated, "api_token", "tok-1",
		map[string]any{"reason": "testing"})
	if err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	entries, hasMore, err := as.QueryAudit(ctx, id, models.AuditQueryOpts{
		EntityType: "api_token",
		EntityID:   "tok-1",
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("QueryAudit returned %d entries, want 1", len(entries))
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}

	e := entries[0]
	if e.Action != models.AuditTokenCreated {
		t.Errorf("Action = %q, want %q", e.Action, models.AuditTokenCreated)
	}
	if e.Actor != id.UserID {
		t.Errorf("Actor = %q, want %q", e.Actor, id.UserID)
	}
	if e.Detail["reason"] != "testing" {
		t.Errorf("Detail[reason] = %v, want testing", e.Detail["reason"])
	}
}

func TestQueryAuditScopedToOrganization(t *testing.T) {
	baseA, idA := setupTestBase(t, false)
	_, idB := setupTestBase(t, false)
	as := store.NewAuditStore(baseA)
	ctx := context.Background()

	if err := as.RecordAudit(ctx, idA, models.AuditTokenRevoked, "api_token", "tok-a", nil); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	entries, _, err := as.QueryAudit(ctx, idB, models.AuditQueryOpts{EntityID: "tok-a"})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("other organization saw %d entries, want 0", len(entries))
	}
}

func TestPurgeOldEntries(t *testing.T) {
	base, id := setupTestBase(t, false)
	as := store.NewAuditStore(base)
	ctx := context.Background()

	if err := as.RecordAudit(ctx, id, models.AuditTaskRevoked, "task", "old-task", nil); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	err := base.Pool.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"UPDATE audit_log SET created_at = NOW() - INTERVAL '400 days' WHERE entity_id = 'old-task'")
		return err
	})
	if err != nil {
		t.Fatalf("backdating audit entry: %v", err)
	}

	// Also insert a recent entry that should NOT be purged.
	if err := as.RecordAudit(ctx, id, models.AuditTaskRevoked, "task", "new-task", nil); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	purged, err := as.PurgeOldEntries(ctx, id, 365)
	if err != nil {
		t.Fatalf("PurgeOldEntries: %v", err)
	}

	if purged != 1 {
		t.Errorf("PurgeOldEntries purged %d, want 1", purged)
	}

	entries, _, err := as.QueryAudit(ctx, id, models.AuditQueryOpts{EntityID: "new-task", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAudit after purge: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("QueryAudit after purge = %d entries, want 1", len(entries))
	}
}

func TestQueryAuditByRequestID(t *testing.T) {
	base, id := setupTestBase(t, false)
	as := store.NewAuditStore(base)

	reqCtx := tenant.WithRequestID(context.Background(), "req-audit-1")
	if err := as.RecordAudit(reqCtx, id, models.AuditRunStarted, "test_run", "run-1", nil); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}
	if err := as.RecordAudit(context.Background(), id, models.AuditRunStarted, "test_run", "run-2", nil); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	entries, _, err := as.QueryAudit(context.Background(), id, models.AuditQueryOpts{RequestID: "req-audit-1"})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("QueryAudit returned %d entries, want 1", len(entries))
	}
	if entries[0].EntityID != "run-1" || entries[0].RequestID != "req-audit-1" {
		t.Errorf("entry = %+v", entries[0])
	}
}
