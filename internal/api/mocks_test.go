package api_test

import (
	"context"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// fakeTokens authenticates a fixed set of raw tokens.
type fakeTokens map[string]auth.Principal

func (f fakeTokens) AuthenticateToken(_ context.Context, raw string) (auth.Principal, error) {
	p, ok := f[raw]
	if !ok {
		return auth.Principal{}, &models.AuthenticationError{Reason: "unknown token", Err: models.ErrInvalidCredential}
	}
	return p, nil
}

// mockProjectService implements api.ProjectService for testing.
type mockProjectService struct {
	listFn   func(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error)
	getFn    func(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error)
	createFn func(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error)
}

func (m *mockProjectService) ListProjects(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.Project], error) {
	return m.listFn(ctx, id, p)
}

func (m *mockProjectService) GetProject(ctx context.Context, id tenant.Identity, projectID string) (*models.Project, error) {
	return m.getFn(ctx, id, projectID)
}

func (m *mockProjectService) CreateProject(ctx context.Context, id tenant.Identity, req models.CreateProjectRequest) (*models.Project, error) {
	return m.createFn(ctx, id, req)
}

func (m *mockProjectService) UpdateProject(context.Context, tenant.Identity, string, models.UpdateProjectRequest) (*models.Project, error) {
	return nil, models.ErrProjectNotFound
}

func (m *mockProjectService) DeleteProject(context.Context, tenant.Identity, string) error {
	return models.ErrProjectNotFound
}

// mockTestSetService implements api.TestSetService; only Execute is wired.
type mockTestSetService struct {
	executeFn func(ctx context.Context, id tenant.Identity, setID string, req models.ExecuteTestSetRequest) (*models.ExecuteTestSetResponse, error)
}

func (m *mockTestSetService) ListTestSets(context.Context, tenant.Identity, models.ListParams) (models.Page[models.TestSet], error) {
	return models.Page[models.TestSet]{}, nil
}

func (m *mockTestSetService) GetTestSet(context.Context, tenant.Identity, string) (*models.TestSet, error) {
	return nil, models.ErrTestSetNotFound
}

func (m *mockTestSetService) CreateTestSet(context.Context, tenant.Identity, models.CreateTestSetRequest) (*models.TestSet, error) {
	return nil, models.ErrTestSetNotFound
}

func (m *mockTestSetService) UpdateTestSet(context.Context, tenant.Identity, string, models.UpdateTestSetRequest) (*models.TestSet, error) {
	return nil, models.ErrTestSetNotFound
}

func (m *mockTestSetService) DeleteTestSet(context.Context, tenant.Identity, string) error {
	return models.ErrTestSetNotFound
}

func (m *mockTestSetService) ExecuteTestSet(ctx context.Context, id tenant.Identity, setID string, req models.ExecuteTestSetRequest) (*models.ExecuteTestSetResponse, error) {
	return m.executeFn(ctx, id, setID, req)
}

// mockTaskService implements api.TaskService for testing.
type mockTaskService struct {
	getFn func(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error)
}

func (m *mockTaskService) GetTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error) {
	return m.getFn(ctx, id, taskID)
}

func (m *mockTaskService) RevokeTask(ctx context.Context, id tenant.Identity, taskID string) (*task.Message, error) {
	return m.getFn(ctx, id, taskID)
}

// mockAdminService implements api.AdminService for testing.
type mockAdminService struct {
	superusers map[string]bool
}

func (m *mockAdminService) ListOrganizations(_ context.Context, id tenant.Identity, _ models.ListParams) (models.Page[models.Organization], error) {
	if !m.superusers[id.UserID] {
		return models.Page[models.Organization]{}, &models.AuthorizationError{UserID: id.UserID, Action: "bypass row-level security"}
	}
	return models.Page[models.Organization]{Items: []models.Organization{{ID: testOrgID}}, Total: 1}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func (f fakeHealth) CheckSchema(context.Context) error { return f.err }

func (f fakeHealth) CheckRole(context.Context) error { return f.err }
