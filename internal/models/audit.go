package models

import "time"

// Audit actions recorded for tenant-sensitive operations.
const (
	AuditTokenCreated  = "token.created"
	AuditTokenRevoked  = "token.revoked"
	AuditBypassGranted = "bypass.granted"
	AuditTaskRevoked   = "task.revoked"
	AuditRunStarted    = "test_run.started"
	AuditLogPurged     = "audit.purged"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"-"`
	Action         string         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Actor          string         `json:"actor,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AuditQueryOpts holds filters for querying the audit log.
type AuditQueryOpts struct {
	EntityType string
	EntityID   string
	Action     string
	RequestID  string
	Since      *time.Time
	Limit      int
	Offset     int
}
