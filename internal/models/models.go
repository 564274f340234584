// Package models defines the tenant-scoped entities of the Rhesis platform
// and the request payloads that create and update them.
package models

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	maxNameLen        = 255
	maxDescriptionLen = 10000
	maxPromptLen      = 100000
	maxURLLen         = 2048
)

// Organization is the tenant boundary. Every tenant-scoped row references one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User belongs to exactly one organization.
type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	IsSuperuser    bool      `json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
}

// Project groups tests, test sets and endpoints.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateProjectRequest is the payload for creating a project.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate checks required fields and limits.
func (r *CreateProjectRequest) Validate() error {
	return validateNameDescription(r.Name, r.Description)
}

// UpdateProjectRequest is a partial update; nil fields are left as they are.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateProjectRequest) Validate() error {
	return validateOptionalNameDescription(r.Name, r.Description)
}

// Endpoint is an AI application under test, reached over HTTP.
type Endpoint struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ProjectID      *string   `json:"project_id,omitempty"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	AuthToken      string    `json:"-"`
	HasAuthToken   bool      `json:"has_auth_token"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateEndpointRequest is the payload for registering an endpoint.
// AuthToken is encrypted at rest and never returned.
type CreateEndpointRequest struct {
	ProjectID *string `json:"project_id,omitempty"`
	Name      string  `json:"name"`
	URL       string  `json:"url"`
	AuthToken string  `json:"auth_token,omitempty"`
}

// Validate checks required fields, limits and the URL scheme.
func (r *CreateEndpointRequest) Validate() error {
	if err := validateNameDescription(r.Name, ""); err != nil {
		return err
	}

	return validateURL(r.URL)
}

// UpdateEndpointRequest is a partial update.
type UpdateEndpointRequest struct {
	Name      *string `json:"name,omitempty"`
	URL       *string `json:"url,omitempty"`
	AuthToken *string `json:"auth_token,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateEndpointRequest) Validate() error {
	if err := validateOptionalNameDescription(r.Name, nil); err != nil {
		return err
	}

	if r.URL != nil {
		return validateURL(*r.URL)
	}

	return nil
}

// Test is a single prompt with the output it is expected to produce.
type Test struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ProjectID      *string   `json:"project_id,omitempty"`
	Prompt         string    `json:"prompt"`
	ExpectedOutput string    `json:"expected_output"`
	Category       string    `json:"category,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateTestRequest is the payload for creating a test.
type CreateTestRequest struct {
	ProjectID      *string `json:"project_id,omitempty"`
	Prompt         string  `json:"prompt"`
	ExpectedOutput string  `json:"expected_output"`
	Category       string  `json:"category,omitempty"`
}

// Validate checks required fields and limits.
func (r *CreateTestRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrMissingPrompt
	}

	if len(r.Prompt) > maxPromptLen {
		return ErrFieldTooLong("prompt", maxPromptLen)
	}

	if len(r.ExpectedOutput) > maxPromptLen {
		return ErrFieldTooLong("expected_output", maxPromptLen)
	}

	if len(r.Category) > maxNameLen {
		return ErrFieldTooLong("category", maxNameLen)
	}

	return nil
}

// UpdateTestRequest is a partial update.
type UpdateTestRequest struct {
	Prompt         *string `json:"prompt,omitempty"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
	Category       *string `json:"category,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateTestRequest) Validate() error {
	if r.Prompt != nil {
		if strings.TrimSpace(*r.Prompt) == "" {
			return ErrMissingPrompt
		}

		if len(*r.Prompt) > maxPromptLen {
			return ErrFieldTooLong("prompt", maxPromptLen)
		}
	}

	if r.ExpectedOutput != nil && len(*r.ExpectedOutput) > maxPromptLen {
		return ErrFieldTooLong("expected_output", maxPromptLen)
	}

	if r.Category != nil && len(*r.Category) > maxNameLen {
		return ErrFieldTooLong("category", maxNameLen)
	}

	return nil
}

// TestSet is an ordered collection of tests executed together.
type TestSet struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ProjectID      *string   `json:"project_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	TestIDs        []string  `json:"test_ids"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateTestSetRequest is the payload for creating a test set.
type CreateTestSetRequest struct {
	ProjectID   *string  `json:"project_id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TestIDs     []string `json:"test_ids"`
}

// Validate checks required fields and limits.
func (r *CreateTestSetRequest) Validate() error {
	if err := validateNameDescription(r.Name, r.Description); err != nil {
		return err
	}

	return validateIDs(r.TestIDs)
}

// UpdateTestSetRequest is a partial update. A non-nil TestIDs replaces membership.
type UpdateTestSetRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	TestIDs     *[]string `json:"test_ids,omitempty"`
}

// Validate checks the fields that are present.
func (r *UpdateTestSetRequest) Validate() error {
	if err := validateOptionalNameDescription(r.Name, r.Description); err != nil {
		return err
	}

	if r.TestIDs != nil {
		return validateIDs(*r.TestIDs)
	}

	return nil
}

// ExecuteTestSetRequest starts a test run of a test set against an endpoint.
type ExecuteTestSetRequest struct {
	EndpointID string `json:"endpoint_id"`
}

// Validate checks that an endpoint id was given.
func (r *ExecuteTestSetRequest) Validate() error {
	if strings.TrimSpace(r.EndpointID) == "" {
		return fmt.Errorf("%w: endpoint_id is required", ErrInvalidID)
	}

	if !IsUUID(r.EndpointID) {
		return fmt.Errorf("%w: endpoint_id", ErrInvalidID)
	}

	return nil
}

// ExecuteTestSetResponse is returned with 202 Accepted.
type ExecuteTestSetResponse struct {
	TaskID    string `json:"task_id"`
	TestRunID string `json:"test_run_id"`
}

// Test run states.
const (
	RunQueued         = "queued"
	RunRunning        = "running"
	RunCompleted      = "completed"
	RunPartialFailure = "partial_failure"
	RunFailed         = "failed"
)

// TestRun is one execution of a test set against an endpoint.
type TestRun struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	TestSetID      string     `json:"test_set_id"`
	EndpointID     string     `json:"endpoint_id"`
	Status         string     `json:"status"`
	TaskID         *string    `json:"task_id,omitempty"`
	Total          int        `json:"total"`
	Passed         int        `json:"passed"`
	Failed         int        `json:"failed"`
	Errored        int        `json:"errored"`
	CreatedBy      string     `json:"created_by"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Test result outcomes.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

// TestResult is the outcome of one test within a run.
type TestResult struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	TestRunID      string    `json:"test_run_id"`
	TestID         string    `json:"test_id"`
	Status         string    `json:"status"`
	Output         string    `json:"output"`
	Error          string    `json:"error,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// TestRunDetail is a run together with its recorded results.
type TestRunDetail struct {
	TestRun
	Results []TestResult `json:"results"`
}

func validateNameDescription(name, description string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingName
	}

	if len(name) > maxNameLen {
		return ErrFieldTooLong("name", maxNameLen)
	}

	if len(description) > maxDescriptionLen {
		return ErrFieldTooLong("description", maxDescriptionLen)
	}

	return nil
}

func validateOptionalNameDescription(name, description *string) error {
	if name != nil {
		if strings.TrimSpace(*name) == "" {
			return ErrMissingName
		}

		if len(*name) > maxNameLen {
			return ErrFieldTooLong("name", maxNameLen)
		}
	}

	if description != nil && len(*description) > maxDescriptionLen {
		return ErrFieldTooLong("description", maxDescriptionLen)
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return ErrMissingURL
	}

	if len(raw) > maxURLLen {
		return ErrFieldTooLong("url", maxURLLen)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !slices.Contains([]string{"http", "https"}, u.Scheme) {
		return fmt.Errorf("url must be an absolute http(s) URL: %q", raw)
	}

	return nil
}

func validateIDs(ids []string) error {
	for _, id := range ids {
		if !IsUUID(id) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}

	return nil
}
