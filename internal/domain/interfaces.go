// Package domain defines the canonical service interfaces shared by the API
// layer and the CLI. Consumers should depend on these interfaces rather than
// re-declaring equivalent ones.
package domain

import (
	"context"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// ProjectService defines project operations.
type ProjectService interface {
	ListProjects(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error)
	GetProject(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error)
	CreateProject(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error)
	UpdateProject(ctx context.Context, id tenant.Identity, projectID string, req models.UpdateProjectRequest) (*models.Project, error)
	DeleteProject(ctx context.Context, id tenant.Identity, projectID string) error
}

// TestService defines test case operations.
type TestService interface {
	ListTests(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Test], error)
	GetTest(ctx context.Context, id tenant.Identity, testID string) (*models.Test, error)
	CreateTest(ctx context.Context, id tenant.Identity, req models.CreateTestRequest) (*models.Test, error)
	UpdateTest(ctx context.Context, id tenant.Identity, testID string, req models.UpdateTestRequest) (*models.Test, error)
	DeleteTest(ctx context.Context, id tenant.Identity, testID string) error
}

// TestSetService defines test set operations, including execution.
type TestSetService interface {
	ListTestSets(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestSet], error)
	GetTestSet(ctx context.Context, id tenant.Identity, setID string) (*models.TestSet, error)
	CreateTestSet(ctx context.Context, id tenant.Identity, req models.CreateTestSetRequest) (*models.TestSet, error)
	UpdateTestSet(ctx context.Context, id tenant.Identity, setID string, req models.UpdateTestSetRequest) (*models.TestSet, error)
	DeleteTestSet(ctx context.Context, id tenant.Identity, setID string) error
	ExecuteTestSet(ctx context.Context, id tenant.Identity, setID string, req models.ExecuteTestSetRequest) (*models.ExecuteTestSetResponse, error)
}

// EndpointService defines endpoint operations.
type EndpointService interface {
	ListEndpoints(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Endpoint], error)
	GetEndpoint(ctx context.Context, id tenant.Identity, endpointID string) (*models.Endpoint, error)
	CreateEndpoint(ctx context.Context, id tenant.Identity, req models.CreateEndpointRequest) (*models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id tenant.Identity, endpointID string, req models.UpdateEndpointRequest) (*models.Endpoint, error)
	DeleteEndpoint(ctx context.Context, id tenant.Identity, endpointID string) error
}

// TestRunService defines read access to test runs.
type TestRunService interface {
	ListTestRuns(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.TestRun], error)
	GetTestRun(ctx context.Context, id tenant.Identity, runID string) (*models.TestRunDetail, error)
}

// TokenService defines API token operations.
type TokenService interface {
	MintToken(ctx context.Context, id tenant.Identity, req models.CreateTokenRequest) (*models.CreatedToken, error)
	ListTokens(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.APIToken], error)
	RevokeToken(ctx context.Context, id tenant.Identity, tokenID string) error
}

// TaskService defines task status and revocation.
type TaskService interface {
	GetTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error)
	RevokeTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error)
}

// AdminService defines cross-organization operations for superusers.
type AdminService interface {
	ListOrganizations(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Organization], error)
}

// AuditService defines audit log operations.
type AuditService interface {
	RecordAudit(ctx context.Context, id tenant.Identity, action, entityType, entityID string, detail map[string]any) error
	QueryAudit(ctx context.Context, id tenant.Identity, opts models.AuditQueryOpts) ([]models.AuditEntry, bool, error)
	PurgeOldEntries(ctx context.Context, id tenant.Identity, retentionDays int) (int, error)
}

// Auditor records audit entries.
type Auditor interface {
	RecordAudit(ctx context.Context, id tenant.Identity, action, entityType, entityID string, detail map[string]any) error
}
