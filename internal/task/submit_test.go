package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func TestSubmitMovesIdentityIntoHeaders(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{MaxRetries: 3})

	msg, err := s.Submit(ctx, "test.execute", map[string]any{
		"organization_id": "org-1",
		"user_id":         "user-1",
		"test_id":         "t-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stored, err := b.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if _, ok := stored.Args["organization_id"]; ok {
		t.Error("organization_id left in args")
	}
	if _, ok := stored.Args["user_id"]; ok {
		t.Error("user_id left in args")
	}
	if stored.Args["test_id"] != "t-1" {
		t.Errorf("test_id = %v", stored.Args["test_id"])
	}

	if stored.Headers[HeaderOrganization] != "org-1" || stored.Headers[HeaderUser] != "user-1" {
		t.Errorf("headers = %v", stored.Headers)
	}

	if stored.MaxRetries != 3 || stored.State != StateQueued {
		t.Errorf("max retries %d, state %s", stored.MaxRetries, stored.State)
	}
}

func TestSubmitIdentityPrecedence(t *testing.T) {
	ambient := tenant.Identity{OrganizationID: "org-ambient", UserID: "user-ambient"}

	tests := []struct {
		name     string
		explicit tenant.Identity
		args     map[string]any
		want     tenant.Identity
	}{
		{
			name: "ambient store only",
			args: map[string]any{},
			want: ambient,
		},
		{
			name: "args override ambient",
			args: map[string]any{"organization_id": "org-arg"},
			want: tenant.Identity{OrganizationID: "org-arg", UserID: "user-ambient"},
		},
		{
			name:     "option overrides args per field",
			explicit: tenant.Identity{UserID: "user-opt"},
			args:     map[string]any{"organization_id": "org-arg", "user_id": "user-arg"},
			want:     tenant.Identity{OrganizationID: "org-arg", UserID: "user-opt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := tenant.WithIdentity(context.Background(), ambient)
			b := NewMemoryBroker()
			s := NewSubmitter(b, quietLogger(), SubmitterConfig{})

			msg, err := s.Submit(ctx, "noop", tt.args, WithIdentity(tt.explicit))
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}

			if got := msg.Identity(); got != tt.want {
				t.Errorf("identity = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSubmitWithoutIdentity(t *testing.T) {
	s := NewSubmitter(NewMemoryBroker(), quietLogger(), SubmitterConfig{})

	msg, err := s.Submit(context.Background(), "system.cleanup", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !msg.Identity().IsZero() || len(msg.Headers) != 0 {
		t.Errorf("expected no identity, got %+v headers %v", msg.Identity(), msg.Headers)
	}
}

func TestSubmitOptions(t *testing.T) {
	b := NewMemoryBroker()
	s := NewSubmitter(b, quietLogger(), SubmitterConfig{MaxRetries: 3})

	before := time.Now()

	msg, err := s.Submit(context.Background(), "noop", nil,
		WithTaskID("fixed-id"), WithMaxRetries(0), WithCountdown(time.Minute))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if msg.ID != "fixed-id" || msg.MaxRetries != 0 {
		t.Errorf("id %q, max retries %d", msg.ID, msg.MaxRetries)
	}

	if msg.ETA.Before(before.Add(time.Minute)) {
		t.Errorf("ETA %v is not delayed", msg.ETA)
	}

	if _, err := s.Submit(context.Background(), "noop", nil, WithTaskID("fixed-id")); err == nil {
		t.Error("expected duplicate task id to fail")
	}
}

func TestMessageHeadersWinOverArgs(t *testing.T) {
	msg := &Message{
		Args:    map[string]any{"organization_id": "org-arg", "user_id": "user-arg"},
		Headers: map[string]string{HeaderOrganization: "org-header"},
	}

	want := tenant.Identity{OrganizationID: "org-header", UserID: "user-arg"}
	if got := msg.Identity(); got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Max: time.Minute, Multiplier: 2}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, time.Minute, time.Minute,
	}

	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicyJitterStaysInRange(t *testing.T) {
	p := DefaultRetryPolicy()

	for range 50 {
		d := p.Delay(2)
		if d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Fatalf("Delay(2) = %v, outside 10%% of 2s", d)
		}
	}
}

func TestSubmitGroupAbandonsGroupWhenMemberSubmitFails(t *testing.T) {
	tests := []struct {
		name    string
		failAt  int
		revoked int
	}{
		{"second member", 2, 1},
		{"join", 4, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b := &failingEnqueueBroker{MemoryBroker: NewMemoryBroker(), failAt: tt.failAt}
			s := NewSubmitter(b, quietLogger(), SubmitterConfig{})

			members := []Signature{{Name: "m"}, {Name: "m"}, {Name: "m"}}
			g, err := s.SubmitGroup(ctx, members, Signature{Name: "cb"},
				WithIdentity(tenant.Identity{OrganizationID: "org-1", UserID: "user-1"}))
			if !errors.Is(err, errEnqueueRejected) {
				t.Fatalf("SubmitGroup error = %v, want errEnqueueRejected", err)
			}
			if g != nil {
				t.Fatalf("got group %+v on failure", g)
			}

			stuck, err := b.StuckGroups(ctx, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatal(err)
			}
			if len(stuck) != 0 {
				t.Errorf("%d group(s) left pending", len(stuck))
			}

			b.MemoryBroker.mu.Lock()
			defer b.MemoryBroker.mu.Unlock()

			if len(b.MemoryBroker.groups) != 1 {
				t.Fatalf("groups = %d, want 1", len(b.MemoryBroker.groups))
			}
			for _, grp := range b.MemoryBroker.groups {
				if grp.State != GroupFailed {
					t.Errorf("group state = %s, want %s", grp.State, GroupFailed)
				}
			}

			revoked := 0
			for _, m := range b.MemoryBroker.tasks {
				if m.State != StateRevoked {
					t.Errorf("task %s (%s) left %s", m.ID, m.Name, m.State)
				}
				revoked++
			}
			if revoked != tt.revoked {
				t.Errorf("revoked %d tasks, want %d", revoked, tt.revoked)
			}
		})
	}
}
