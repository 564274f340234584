package api

import (
	"context"
	"net/http"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/domain"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Services consumed by the handlers.
type (
	ProjectService  = domain.ProjectService
	TestService     = domain.TestService
	TestSetService  = domain.TestSetService
	EndpointService = domain.EndpointService
	TestRunService  = domain.TestRunService
	TokenService    = domain.TokenService
	TaskService     = domain.TaskService
	AdminService    = domain.AdminService
	AuditService    = domain.AuditService
)

// TokenAuthenticator verifies a raw bearer token.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, raw string) (auth.Principal, error)
}

// TokenUsageRecorder stamps a token as used.
type TokenUsageRecorder interface {
	TouchLastUsed(ctx context.Context, id tenant.Identity, tokenID string) error
}

// SessionStore writes and clears the session cookie.
type SessionStore interface {
	Save(w http.ResponseWriter, r *http.Request, id tenant.Identity) error
	Destroy(w http.ResponseWriter, r *http.Request) error
}

// HealthChecker pings the database.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SchemaChecker fails while migrations are pending.
type SchemaChecker interface {
	CheckSchema(ctx context.Context) error
}

// RoleChecker fails when database sessions are not subject to row-level
// security.
type RoleChecker interface {
	CheckRole(ctx context.Context) error
}
