package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type auditCall struct {
	AuditJob
	StoreIdentity tenant.Identity
}

// mockAuditor records audit calls.
type mockAuditor struct {
	mu    sync.Mutex
	calls []auditCall

	err error
}

func (m *mockAuditor) RecordAudit(ctx context.Context, id tenant.Identity, action, entityType, entityID string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, auditCall{
		AuditJob: AuditJob{
			Identity:   id,
			RequestID:  tenant.RequestIDFromContext(ctx),
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			Detail:     detail,
		},
		StoreIdentity: tenant.IdentityFromContext(ctx),
	})
	return m.err
}

func (m *mockAuditor) getCalls() []auditCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]auditCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// syncAudit records jobs synchronously in place of an AuditWorker.
type syncAudit struct {
	mu   sync.Mutex
	jobs []*AuditJob
}

func (s *syncAudit) Enqueue(job *AuditJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *syncAudit) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Action
	}
	return out
}

// fakeTxRunner runs fn with a nil transaction, recording the identity.
type fakeTxRunner struct {
	mu    sync.Mutex
	calls []tenant.Identity
}

func (f *fakeTxRunner) WithTenant(ctx context.Context, id tenant.Identity, fn func(ctx context.Context, tx pgx.Tx) error, _ ...dbpool.ScopeOption) error {
	if err := dbpool.ValidateIdentity(id); err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	return fn(ctx, nil)
}

// memoryCatalog is an in-memory stand-in for the test, test set, endpoint
// and test run stores, keyed by organization.
type memoryCatalog struct {
	mu        sync.Mutex
	tests     map[string]*models.Test
	setTests  map[string][]string
	endpoints map[string]*models.Endpoint
	runs      map[string]*models.TestRun
	results   map[string]map[string]*models.TestResult
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		tests:     make(map[string]*models.Test),
		setTests:  make(map[string][]string),
		endpoints: make(map[string]*models.Endpoint),
		runs:      make(map[string]*models.TestRun),
		results:   make(map[string]map[string]*models.TestResult),
	}
}

func (m *memoryCatalog) ListTestsTx(_ context.Context, _ pgx.Tx, setID string) ([]models.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.setTests[setID]
	if !ok {
		return nil, models.ErrTestSetNotFound
	}

	out := make([]models.Test, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.tests[id])
	}
	return out, nil
}

func (m *memoryCatalog) GetTx(_ context.Context, _ pgx.Tx, id string) (*models.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, models.ErrTestNotFound
	}
	c := *t
	return &c, nil
}

func (m *memoryCatalog) GetWithSecretTx(_ context.Context, _ pgx.Tx, orgID, endpointID string) (*models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.endpoints[endpointID]
	if !ok || ep.OrganizationID != orgID {
		return nil, models.ErrEndpointNotFound
	}
	c := *ep
	return &c, nil
}

// runStore adapts memoryCatalog to RunTxStore; GetTx clashes with the test lookup.
type runStore struct{ m *memoryCatalog }

func (r runStore) GetTx(_ context.Context, _ pgx.Tx, runID string) (*models.TestRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	run, ok := r.m.runs[runID]
	if !ok {
		return nil, models.ErrTestRunNotFound
	}
	c := *run
	return &c, nil
}

func (r runStore) MarkRunningTx(_ context.Context, _ pgx.Tx, runID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if run, ok := r.m.runs[runID]; ok && run.Status == models.RunQueued {
		run.Status = models.RunRunning
	}
	return nil
}

func (r runStore) RecordResultTx(_ context.Context, _ pgx.Tx, res *models.TestResult) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.results[res.TestRunID] == nil {
		r.m.results[res.TestRunID] = make(map[string]*models.TestResult)
	}
	c := *res
	r.m.results[res.TestRunID][res.TestID] = &c
	return nil
}

func (r runStore) FinalizeTx(_ context.Context, _ pgx.Tx, runID string) (*models.TestRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	run, ok := r.m.runs[runID]
	if !ok {
		return nil, models.ErrTestRunNotFound
	}

	run.Passed, run.Failed, run.Errored = 0, 0, 0
	for _, res := range r.m.results[runID] {
		switch res.Status {
		case models.ResultPassed:
			run.Passed++
		case models.ResultFailed:
			run.Failed++
		default:
			run.Errored++
		}
	}
	run.Errored += run.Total - run.Passed - run.Failed - run.Errored

	switch {
	case run.Errored == 0:
		run.Status = models.RunCompleted
	case run.Passed+run.Failed == 0:
		run.Status = models.RunFailed
	default:
		run.Status = models.RunPartialFailure
	}

	c := *run
	return &c, nil
}

func (r runStore) FailTx(_ context.Context, _ pgx.Tx, runID, status string) (*models.TestRun, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	run, ok := r.m.runs[runID]
	if !ok {
		return nil, models.ErrTestRunNotFound
	}
	run.Status = status
	c := *run
	return &c, nil
}

func (r runStore) status(runID string) string {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.runs[runID].Status
}

// fakeTokenStore keeps token records in memory.
type fakeTokenStore struct {
	mu      sync.Mutex
	records map[string]*models.APIToken
}

func (f *fakeTokenStore) Create(_ context.Context, _ tenant.Identity, t *models.APIToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = make(map[string]*models.APIToken)
	}
	c := *t
	f.records[t.ID] = &c
	return nil
}

func (f *fakeTokenStore) List(_ context.Context, id tenant.Identity, _ models.ListParams) (models.Page[models.APIToken], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page models.Page[models.APIToken]
	for _, t := range f.records {
		if t.OrganizationID == id.OrganizationID && t.UserID == id.UserID {
			page.Items = append(page.Items, *t)
		}
	}
	page.Total = len(page.Items)
	return page, nil
}

func (f *fakeTokenStore) Revoke(_ context.Context, id tenant.Identity, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.records[tokenID]
	if !ok || t.OrganizationID != id.OrganizationID || t.UserID != id.UserID {
		return models.ErrTokenNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

type fakeTokenCache struct {
	invalidated []string
}

func (f *fakeTokenCache) Invalidate(_ tenant.Identity, tokenID string) {
	f.invalidated = append(f.invalidated, tokenID)
}

type fakeSuperusers map[string]bool

func (f fakeSuperusers) IsSuperuser(_ context.Context, id tenant.Identity) (bool, error) {
	return f[id.UserID], nil
}

type fakeOrgLister struct {
	calls int
}

func (f *fakeOrgLister) ListAll(_ context.Context, _ tenant.Identity, bypass dbpool.Bypass, _ models.ListParams) (models.Page[models.Organization], error) {
	f.calls++
	if !bypass.Valid() {
		return models.Page[models.Organization]{}, models.ErrForbidden
	}
	return models.Page[models.Organization]{Items: []models.Organization{{ID: "o1"}, {ID: "o2"}}, Total: 2}, nil
}
