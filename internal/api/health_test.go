package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rhesis-ai/rhesis/internal/api"
)

func TestLiveness_ReturnsOK(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, api.RouterDeps{})
	w := doRequest(r, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}

	if body["database"] != "not_configured" {
		t.Errorf("expected database 'not_configured', got %v", body["database"])
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := newTestRouter(t, api.RouterDeps{DB: fakeHealth{}, Schema: fakeHealth{}, Role: fakeHealth{}})
	if w := doRequest(ok, http.MethodGet, "/api/v1/ready", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	down := fakeHealth{err: errors.New("connection refused")}
	bad := newTestRouter(t, api.RouterDeps{DB: down, Schema: down})
	if w := doRequest(bad, http.MethodGet, "/api/v1/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestReadiness_PrivilegedRoleNotReady(t *testing.T) {
	t.Parallel()

	privileged := fakeHealth{err: errors.New("database role bypasses row-level security")}
	r := newTestRouter(t, api.RouterDeps{DB: fakeHealth{}, Schema: fakeHealth{}, Role: privileged})

	w := doRequest(r, http.MethodGet, "/api/v1/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if body.Checks["role"] != "error" || body.Checks["schema"] != "ok" {
		t.Errorf("unexpected checks %v", body.Checks)
	}
}
