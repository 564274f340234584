package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

var fastRetry = task.RetryPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2}

type pipeline struct {
	id      tenant.Identity
	catalog *memoryCatalog
	runs    runStore
	db      *fakeTxRunner
	broker  *task.MemoryBroker
	sub     *task.Submitter
	coord   *task.GroupCoordinator
	worker  *task.Worker
	tasks   *TestingTasks
}

func newPipeline(t *testing.T, endpointURL string) *pipeline {
	t.Helper()

	p := &pipeline{
		id:      tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()},
		catalog: newMemoryCatalog(),
		db:      &fakeTxRunner{},
		broker:  task.NewMemoryBroker(),
	}
	p.runs = runStore{m: p.catalog}

	log := quietLogger()
	p.sub = task.NewSubmitter(p.broker, log, task.SubmitterConfig{MaxRetries: 1, JoinMaxAttempts: 1000, JoinInterval: time.Millisecond})
	p.coord = task.NewGroupCoordinator(p.broker, p.sub, nil, log)

	reg := task.NewRegistry()
	p.coord.Register(reg)

	p.tasks = NewTestingTasks(TestingTasksConfig{
		DB:        p.db,
		TestSets:  p.catalog,
		Tests:     p.catalog,
		Endpoints: p.catalog,
		Runs:      p.runs,
		Submitter: p.sub,
		Invoker:   NewHTTPInvoker(0),
		Log:       log,
	})
	p.tasks.Register(reg, p.coord)

	p.worker = task.NewWorker(p.broker, reg, log, task.WithRetryPolicy(fastRetry))

	org := p.id.OrganizationID
	p.catalog.tests["t-pass"] = &models.Test{ID: "t-pass", OrganizationID: org, Prompt: "hello", ExpectedOutput: "HELLO"}
	p.catalog.tests["t-fail"] = &models.Test{ID: "t-fail", OrganizationID: org, Prompt: "fail", ExpectedOutput: "nope"}
	p.catalog.tests["t-error"] = &models.Test{ID: "t-error", OrganizationID: org, Prompt: "boom", ExpectedOutput: "x"}
	p.catalog.setTests["set-1"] = []string{"t-pass", "t-fail", "t-error"}
	p.catalog.endpoints["ep-1"] = &models.Endpoint{ID: "ep-1", OrganizationID: org, URL: endpointURL, AuthToken: "secret"}
	p.catalog.runs["run-1"] = &models.TestRun{
		ID: "run-1", OrganizationID: org, TestSetID: "set-1", EndpointID: "ep-1",
		Status: models.RunQueued, Total: 3,
	}

	return p
}

func (p *pipeline) runUntilSettled(t *testing.T, runID string) {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		ran, err := p.worker.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}

		switch p.runs.status(runID) {
		case models.RunQueued, models.RunRunning:
		default:
			return
		}

		if !ran {
			time.Sleep(time.Millisecond)
		}
	}

	t.Fatalf("run %s did not settle", runID)
}

func fakeEndpoint(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch req.Prompt {
		case "hello":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"output":"HELLO world"}`)) //nolint:errcheck
		case "boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte("something else")) //nolint:errcheck
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestTestSetExecutionPipeline(t *testing.T) {
	srv := fakeEndpoint(t)
	p := newPipeline(t, srv.URL)

	_, err := p.sub.Submit(context.Background(), TaskExecuteTestSet,
		map[string]any{"test_run_id": "run-1"}, task.WithIdentity(p.id))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p.runUntilSettled(t, "run-1")

	run := p.catalog.runs["run-1"]
	if run.Status != models.RunPartialFailure {
		t.Errorf("status = %s, want %s", run.Status, models.RunPartialFailure)
	}
	if run.Passed != 1 || run.Failed != 1 || run.Errored != 1 {
		t.Errorf("counters = %d/%d/%d", run.Passed, run.Failed, run.Errored)
	}

	results := p.catalog.results["run-1"]
	if results["t-pass"].Status != models.ResultPassed || results["t-pass"].Output != "HELLO world" {
		t.Errorf("t-pass = %+v", results["t-pass"])
	}
	if results["t-fail"].Status != models.ResultFailed {
		t.Errorf("t-fail = %+v", results["t-fail"])
	}
	if results["t-error"].Status != models.ResultError || results["t-error"].Error == "" {
		t.Errorf("t-error = %+v", results["t-error"])
	}

	p.db.mu.Lock()
	defer p.db.mu.Unlock()

	if len(p.db.calls) == 0 {
		t.Fatal("no tenant transactions opened")
	}
	for i, id := range p.db.calls {
		if id != p.id {
			t.Errorf("transaction %d ran as %+v", i, id)
		}
	}
}

func TestExecuteTestSetRejectsStartedRun(t *testing.T) {
	p := newPipeline(t, "http://127.0.0.1:0")
	p.catalog.runs["run-1"].Status = models.RunRunning

	ctx, store := tenant.WithIdentity(context.Background(), p.id)
	defer store.Clear()

	_, err := p.tasks.executeTestSet(ctx, &task.Message{
		Name: TaskExecuteTestSet,
		Args: map[string]any{"test_run_id": "run-1"},
	})
	if !task.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestAbandonRunMarksPartialFailure(t *testing.T) {
	p := newPipeline(t, "http://127.0.0.1:0")
	p.catalog.runs["run-1"].Status = models.RunRunning

	ctx, store := tenant.WithIdentity(context.Background(), p.id)
	defer store.Clear()

	err := p.tasks.abandonRun(ctx, &task.Group{ID: "g-1"}, map[string]any{"test_run_id": "run-1"})
	if err != nil {
		t.Fatalf("abandonRun: %v", err)
	}

	if got := p.runs.status("run-1"); got != models.RunPartialFailure {
		t.Errorf("status = %s", got)
	}

	err = p.tasks.abandonRun(ctx, &task.Group{ID: "g-1"}, map[string]any{})
	if !errors.Is(err, models.ErrInvalidID) {
		t.Errorf("missing run id = %v", err)
	}
}

func TestHTTPInvokerClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			w.WriteHeader(http.StatusBadRequest)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"output":"ok"}`)) //nolint:errcheck
		}
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(0)
	ctx := context.Background()

	out, err := inv.Invoke(ctx, &models.Endpoint{ID: "a", URL: srv.URL + "/ok"}, "p")
	if err != nil || out != "ok" {
		t.Errorf("ok = %q, %v", out, err)
	}

	if _, err := inv.Invoke(ctx, &models.Endpoint{ID: "b", URL: srv.URL + "/bad"}, "p"); !task.IsPermanent(err) {
		t.Errorf("400 should be permanent, got %v", err)
	}

	if _, err := inv.Invoke(ctx, &models.Endpoint{ID: "c", URL: srv.URL + "/busy"}, "p"); err == nil || task.IsPermanent(err) {
		t.Errorf("429 should be retryable, got %v", err)
	}
}

func TestHTTPInvokerOpensCircuitPerEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(0)
	ctx := context.Background()
	broken := &models.Endpoint{ID: "broken", URL: srv.URL}

	for range cbFailureThreshold {
		inv.Invoke(ctx, broken, "p") //nolint:errcheck // counting failures.
	}

	if _, err := inv.Invoke(ctx, broken, "p"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected open circuit, got %v", err)
	}

	if _, err := inv.Invoke(ctx, &models.Endpoint{ID: "other", URL: srv.URL}, "p"); errors.Is(err, ErrCircuitOpen) {
		t.Error("circuit of another endpoint opened")
	}
}
