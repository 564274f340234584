package dbpool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	orgA  = "0b8f5c52-6a0e-4c1e-9d3c-1f1f4f6c0a01"
	orgB  = "0b8f5c52-6a0e-4c1e-9d3c-1f1f4f6c0a02"
	userA = "7d4e2a10-3b5c-4e8f-a1b2-c3d4e5f60001"
	userB = "7d4e2a10-3b5c-4e8f-a1b2-c3d4e5f60002"
)

type fakeChecker struct {
	superusers map[string]bool
	err        error
}

func (f *fakeChecker) IsSuperuser(_ context.Context, id tenant.Identity) (bool, error) {
	return f.superusers[id.UserID], f.err
}

func TestGrantBypass(t *testing.T) {
	checker := &fakeChecker{superusers: map[string]bool{userA: true}}

	b, err := dbpool.GrantBypass(context.Background(), checker, tenant.Identity{OrganizationID: orgA, UserID: userA})
	if err != nil {
		t.Fatalf("GrantBypass: %v", err)
	}
	if !b.Valid() || b.GrantedTo() != userA {
		t.Errorf("unexpected bypass %+v", b)
	}
}

func TestGrantBypass_NonSuperuserForbidden(t *testing.T) {
	checker := &fakeChecker{superusers: map[string]bool{userA: true}}

	_, err := dbpool.GrantBypass(context.Background(), checker, tenant.Identity{OrganizationID: orgB, UserID: userB})

	var authzErr *models.AuthorizationError
	if !errors.As(err, &authzErr) {
		t.Fatalf("got %v, want AuthorizationError", err)
	}
	if authzErr.UserID != userB {
		t.Errorf("UserID = %q", authzErr.UserID)
	}
}

func TestGrantBypass_NoUser(t *testing.T) {
	_, err := dbpool.GrantBypass(context.Background(), &fakeChecker{}, tenant.Identity{OrganizationID: orgA})
	if !errors.Is(err, models.ErrUnauthenticated) {
		t.Fatalf("got %v, want ErrUnauthenticated", err)
	}
}

func TestGrantBypass_CheckerError(t *testing.T) {
	boom := errors.New("db down")
	_, err := dbpool.GrantBypass(context.Background(), &fakeChecker{err: boom}, tenant.Identity{OrganizationID: orgA, UserID: userA})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped checker error", err)
	}
	if errors.Is(err, models.ErrForbidden) {
		t.Error("lookup failure must not look like a denial")
	}
}

func TestBeginTenant_ForgedBypassRejected(t *testing.T) {
	var p dbpool.Pool

	_, err := p.BeginTenant(context.Background(),
		tenant.Identity{OrganizationID: orgA, UserID: userA},
		dbpool.WithBypass(dbpool.Bypass{}))
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		id      tenant.Identity
		wantErr bool
	}{
		{"valid", tenant.Identity{OrganizationID: orgA, UserID: userA}, false},
		{"missing org", tenant.Identity{UserID: userA}, true},
		{"missing user", tenant.Identity{OrganizationID: orgA}, true},
		{"org not uuid", tenant.Identity{OrganizationID: "acme", UserID: userA}, true},
		{"user injection", tenant.Identity{OrganizationID: orgA, UserID: "x'; DROP TABLE tests; --"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dbpool.ValidateIdentity(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrInvalidTenant) {
				t.Errorf("got %v, want ErrInvalidTenant", err)
			}
		})
	}
}
