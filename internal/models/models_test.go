package models_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rhesis-ai/rhesis/internal/models"
)

func ptr[T any](v T) *T { return &v }

func assertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func assertErrorContains(t *testing.T, err error, want string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error containing %q, got nil", want)
	}

	if !strings.Contains(err.Error(), want) {
		t.Errorf("expected error containing %q, got %q", want, err.Error())
	}
}

const testID = "6f1c1b52-1d8e-4c55-9a8e-0e8b1f2d3c4a"

func TestCreateProjectRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     models.CreateProjectRequest
		wantErr string
	}{
		{name: "valid", req: models.CreateProjectRequest{Name: "chatbot"}},
		{name: "missing name", req: models.CreateProjectRequest{Name: "  "}, wantErr: "name is required"},
		{name: "name too long", req: models.CreateProjectRequest{Name: strings.Repeat("x", 256)}, wantErr: "exceeds maximum length"},
		{name: "description too long", req: models.CreateProjectRequest{Name: "a", Description: strings.Repeat("x", 10001)}, wantErr: "exceeds maximum length"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr != "" {
				assertErrorContains(t, err, tc.wantErr)
				return
			}
			assertNoError(t, err)
		})
	}
}

func TestCreateEndpointRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     models.CreateEndpointRequest
		wantErr string
	}{
		{name: "valid", req: models.CreateEndpointRequest{Name: "prod", URL: "https://bot.example.com/chat"}},
		{name: "missing url", req: models.CreateEndpointRequest{Name: "prod"}, wantErr: "url is required"},
		{name: "relative url", req: models.CreateEndpointRequest{Name: "prod", URL: "/chat"}, wantErr: "absolute http(s) URL"},
		{name: "bad scheme", req: models.CreateEndpointRequest{Name: "prod", URL: "ftp://x/y"}, wantErr: "absolute http(s) URL"},
		{name: "missing name", req: models.CreateEndpointRequest{URL: "https://x"}, wantErr: "name is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr != "" {
				assertErrorContains(t, err, tc.wantErr)
				return
			}
			assertNoError(t, err)
		})
	}
}

func TestCreateTestSetRequest_Validate(t *testing.T) {
	assertNoError(t, (&models.CreateTestSetRequest{Name: "smoke", TestIDs: []string{testID}}).Validate())
	assertErrorContains(t, (&models.CreateTestSetRequest{Name: "smoke", TestIDs: []string{"nope"}}).Validate(), "invalid id")
	assertErrorContains(t, (&models.UpdateTestSetRequest{TestIDs: ptr([]string{"nope"})}).Validate(), "invalid id")
	assertErrorContains(t, (&models.UpdateTestSetRequest{Name: ptr("")}).Validate(), "name is required")
}

func TestCreateTestRequest_Validate(t *testing.T) {
	assertNoError(t, (&models.CreateTestRequest{Prompt: "hi", ExpectedOutput: "hello"}).Validate())
	assertErrorContains(t, (&models.CreateTestRequest{}).Validate(), "prompt is required")
	assertErrorContains(t, (&models.UpdateTestRequest{Prompt: ptr(" ")}).Validate(), "prompt is required")
	assertNoError(t, (&models.UpdateTestRequest{Category: ptr("safety")}).Validate())
}

func TestCreateTokenRequest_Validate(t *testing.T) {
	ttl, err := (&models.CreateTokenRequest{Name: "ci"}).Validate()
	assertNoError(t, err)
	if ttl != models.DefaultTokenTTL {
		t.Errorf("default ttl = %v", ttl)
	}

	ttl, err = (&models.CreateTokenRequest{Name: "ci", ExpiresInDays: 7}).Validate()
	assertNoError(t, err)
	if ttl != 7*24*time.Hour {
		t.Errorf("ttl = %v", ttl)
	}

	ttl, err = (&models.CreateTokenRequest{Name: "ci", ExpiresInDays: 10000}).Validate()
	assertNoError(t, err)
	if ttl != 365*24*time.Hour {
		t.Errorf("ttl not capped: %v", ttl)
	}

	_, err = (&models.CreateTokenRequest{}).Validate()
	assertErrorContains(t, err, "name is required")
}

func TestAPIToken_Active(t *testing.T) {
	now := time.Now()
	tok := models.APIToken{ExpiresAt: now.Add(time.Hour)}
	if !tok.Active(now) {
		t.Error("expected active")
	}

	tok.RevokedAt = &now
	if tok.Active(now) {
		t.Error("revoked token reported active")
	}

	expired := models.APIToken{ExpiresAt: now.Add(-time.Second)}
	if expired.Active(now) {
		t.Error("expired token reported active")
	}
}

func TestListParams_Normalize(t *testing.T) {
	allowed := []string{"created_at", "name"}

	tests := []struct {
		name    string
		in      models.ListParams
		want    models.ListParams
		wantErr bool
	}{
		{name: "defaults", in: models.ListParams{}, want: models.ListParams{Limit: 10, SortBy: "created_at", SortOrder: "DESC"}},
		{name: "clamped", in: models.ListParams{Skip: -5, Limit: 500, SortBy: "name", SortOrder: "asc"}, want: models.ListParams{Limit: 100, SortBy: "name", SortOrder: "ASC"}},
		{name: "unknown column", in: models.ListParams{SortBy: "password"}, wantErr: true},
		{name: "bad order", in: models.ListParams{SortOrder: "sideways"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.in
			err := p.Normalize(allowed)
			if tc.wantErr {
				if !errors.Is(err, models.ErrInvalidSort) {
					t.Fatalf("got %v, want ErrInvalidSort", err)
				}
				return
			}
			assertNoError(t, err)
			if p != tc.want {
				t.Errorf("got %+v, want %+v", p, tc.want)
			}
		})
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"authentication", &models.AuthenticationError{Reason: "no cookie"}, models.ErrUnauthenticated},
		{"authorization", &models.AuthorizationError{UserID: "u", Action: "bypass"}, models.ErrForbidden},
		{"tenant config", &models.TenantConfigError{Scope: "session", Err: cause}, models.ErrTenantConfig},
		{"tenant config cause", &models.TenantConfigError{Scope: "session", Err: cause}, cause},
		{"task execution", &models.TaskExecutionError{TaskID: "t", Attempts: 4, Err: cause}, models.ErrTaskExecution},
		{"join exhausted", &models.JoinExhaustedError{GroupID: "g", Attempts: 10}, models.ErrJoinExhausted},
		{"not found", models.ErrProjectNotFound, models.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.target) {
				t.Errorf("errors.Is(%v, %v) = false", tc.err, tc.target)
			}
		})
	}
}
