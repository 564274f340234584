package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

var groupIdentity = tenant.Identity{OrganizationID: "org-1", UserID: "user-1"}

type collectArgs struct {
	RunID   string            `json:"run_id"`
	GroupID string            `json:"group_id"`
	Results []json.RawMessage `json:"results"`
}

func TestGroupCallbackReceivesEveryOutcome(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	reg := NewRegistry()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{MaxRetries: 0, JoinInterval: time.Millisecond})
	c := NewGroupCoordinator(b, s, nil, quietLogger())
	c.Register(reg)

	reg.Register("member", func(_ context.Context, msg *Message) (any, error) {
		if msg.Args["fail"] == true {
			return nil, errors.New("member failed")
		}
		return map[string]any{"n": msg.Args["n"]}, nil
	})

	callbacks := make(chan collectArgs, 1)
	var callbackIdentity tenant.Identity
	reg.Register("collect", func(ctx context.Context, msg *Message) (any, error) {
		callbackIdentity = tenant.IdentityFromContext(ctx)
		var a collectArgs
		if err := msg.DecodeArgs(&a); err != nil {
			return nil, err
		}
		callbacks <- a
		return nil, nil
	})

	w := NewWorker(b, reg, quietLogger(), WithRetryPolicy(fastRetry))

	g, err := s.SubmitGroup(ctx,
		[]Signature{
			{Name: "member", Args: map[string]any{"n": 1}},
			{Name: "member", Args: map[string]any{"fail": true}},
			{Name: "member", Args: map[string]any{"n": 3}},
		},
		Signature{Name: "collect", Args: map[string]any{"run_id": "run-1"}},
		WithIdentity(groupIdentity),
	)
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	if !drain(ctx, w, b, g.JoinTaskID, callbackID(g.ID)) {
		t.Fatal("group did not finish")
	}

	var got collectArgs
	select {
	case got = <-callbacks:
	default:
		t.Fatal("callback did not run")
	}

	if got.RunID != "run-1" || got.GroupID != g.ID {
		t.Errorf("callback args = %+v", got)
	}

	if len(got.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(got.Results))
	}
	if string(got.Results[0]) != `{"n":1}` || string(got.Results[2]) != `{"n":3}` {
		t.Errorf("results = %s, %s", got.Results[0], got.Results[2])
	}
	if string(got.Results[1]) != "null" {
		t.Errorf("failed member result = %s, want null", got.Results[1])
	}

	if callbackIdentity != groupIdentity {
		t.Errorf("callback ran as %+v", callbackIdentity)
	}

	stored, _ := b.GetGroup(ctx, g.ID)
	if stored.State != GroupCompleted {
		t.Errorf("group state = %s", stored.State)
	}
}

func TestGroupJoinExhaustion(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	revocations := NewLocalRevocations()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{JoinMaxAttempts: 3, JoinInterval: time.Millisecond})
	c := NewGroupCoordinator(b, s, revocations, quietLogger())

	var hooked []string
	c.OnExhausted("collect", func(ctx context.Context, g *Group, args map[string]any) error {
		hooked = append(hooked, g.ID, args["run_id"].(string), tenant.IdentityFromContext(ctx).UserID)
		return nil
	})

	var revoked []string
	revocations.Subscribe(func(id string) { revoked = append(revoked, id) })

	g, err := s.SubmitGroup(ctx,
		[]Signature{{Name: "member"}, {Name: "member"}},
		Signature{Name: "collect", Args: map[string]any{"run_id": "run-1"}},
		WithIdentity(groupIdentity),
	)
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	join, _ := b.Get(ctx, g.JoinTaskID)
	if join.MaxRetries != 2 {
		t.Fatalf("join max retries = %d, want 2", join.MaxRetries)
	}

	// One member is running when the join gives up.
	running, _ := b.Claim(ctx, time.Now())

	jctx, store := tenant.WithIdentity(ctx, groupIdentity)
	defer store.Clear()

	join.Attempt = 1
	_, err = c.Join(jctx, join)

	var ra *RetryAfter
	if !errors.As(err, &ra) || ra.Delay != time.Millisecond {
		t.Fatalf("expected RetryAfter, got %v", err)
	}

	join.Attempt = 3
	_, err = c.Join(jctx, join)

	var exhausted *models.JoinExhaustedError
	if !errors.As(err, &exhausted) || !IsPermanent(err) {
		t.Fatalf("expected permanent JoinExhaustedError, got %v", err)
	}
	if len(exhausted.Pending) != 2 || exhausted.Attempts != 3 {
		t.Errorf("exhausted = %+v", exhausted)
	}

	stored, _ := b.GetGroup(ctx, g.ID)
	if stored.State != GroupPartialFailure {
		t.Errorf("group state = %s", stored.State)
	}

	for _, id := range g.MemberIDs {
		m, _ := b.Get(ctx, id)
		if m.State != StateRevoked {
			t.Errorf("member %s state = %s", id, m.State)
		}
	}

	if len(revoked) != 1 || revoked[0] != running.ID {
		t.Errorf("published revocations = %v, want only the running member", revoked)
	}

	if _, err := b.Get(ctx, callbackID(g.ID)); !models.IsNotFound(err) {
		t.Error("callback submitted for an exhausted group")
	}

	if len(hooked) != 3 || hooked[0] != g.ID || hooked[1] != "run-1" || hooked[2] != "user-1" {
		t.Errorf("hook calls = %v", hooked)
	}
}

func TestGroupJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{})
	c := NewGroupCoordinator(b, s, nil, quietLogger())

	g, err := s.SubmitGroup(ctx, nil, Signature{Name: "collect"}, WithIdentity(groupIdentity))
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	join, _ := b.Get(ctx, g.JoinTaskID)
	join.Attempt = 1

	for range 2 {
		if _, err := c.Join(ctx, join); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	cb, err := b.Get(ctx, callbackID(g.ID))
	if err != nil {
		t.Fatalf("callback missing: %v", err)
	}
	if cb.Identity() != groupIdentity {
		t.Errorf("callback identity = %+v", cb.Identity())
	}
}

func TestGroupSweeperAbandonsStuckGroups(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{})
	c := NewGroupCoordinator(b, s, nil, quietLogger())

	var hookIdentity tenant.Identity
	c.OnExhausted("collect", func(ctx context.Context, _ *Group, _ map[string]any) error {
		hookIdentity = tenant.IdentityFromContext(ctx)
		return nil
	})

	b.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stuck, err := s.SubmitGroup(ctx, []Signature{{Name: "member"}}, Signature{Name: "collect"}, WithIdentity(groupIdentity))
	b.now = time.Now
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	fresh, err := s.SubmitGroup(ctx, []Signature{{Name: "member"}}, Signature{Name: "collect"}, WithIdentity(groupIdentity))
	if err != nil {
		t.Fatalf("SubmitGroup: %v", err)
	}

	sweeper := NewGroupSweeper(b, c, quietLogger(), 30*time.Minute, time.Minute)

	n, err := sweeper.SweepOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepOnce = %d, %v", n, err)
	}

	g, _ := b.GetGroup(ctx, stuck.ID)
	if g.State != GroupPartialFailure {
		t.Errorf("stuck group state = %s", g.State)
	}

	join, _ := b.Get(ctx, stuck.JoinTaskID)
	if join.State != StateRevoked {
		t.Errorf("stuck join state = %s", join.State)
	}

	if hookIdentity != groupIdentity {
		t.Errorf("hook ran as %+v", hookIdentity)
	}

	g, _ = b.GetGroup(ctx, fresh.ID)
	if g.State != GroupPending {
		t.Errorf("fresh group state = %s", g.State)
	}
}
