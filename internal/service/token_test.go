package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func newTokenFixture() (*TokenService, *fakeTokenStore, *fakeTokenCache, *syncAudit, *auth.Issuer) {
	store := &fakeTokenStore{}
	cache := &fakeTokenCache{}
	audit := &syncAudit{}
	issuer := auth.NewIssuer("test-secret-test-secret-test-secret", "rhesis-test")
	return NewTokenService(store, issuer, cache, audit, quietLogger()), store, cache, audit, issuer
}

func TestMintTokenStoresHashOnly(t *testing.T) {
	svc, store, _, audit, issuer := newTokenFixture()
	id := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}

	created, err := svc.MintToken(context.Background(), id, models.CreateTokenRequest{Name: "ci", ExpiresInDays: 1})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	if created.TokenType != "bearer" || created.AccessToken == "" {
		t.Fatalf("unexpected token: %+v", created)
	}

	claims, err := issuer.Verify(created.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Identity() != id {
		t.Errorf("claims identity = %+v, want %+v", claims.Identity(), id)
	}
	if claims.ID != created.ID {
		t.Errorf("token id = %s, want %s", claims.ID, created.ID)
	}

	rec := store.records[created.ID]
	if rec == nil {
		t.Fatal("token record not stored")
	}
	if rec.TokenHash != auth.HashToken(created.AccessToken) || rec.TokenHash == created.AccessToken {
		t.Error("stored hash does not match the issued token")
	}
	if until := time.Until(rec.ExpiresAt); until <= 23*time.Hour || until > 25*time.Hour {
		t.Errorf("expires in %v", until)
	}

	if got := audit.actions(); len(got) != 1 || got[0] != models.AuditTokenCreated {
		t.Errorf("audit = %v", got)
	}
}

func TestMintTokenRequiresName(t *testing.T) {
	svc, store, _, _, _ := newTokenFixture()
	id := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}

	if _, err := svc.MintToken(context.Background(), id, models.CreateTokenRequest{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.records) != 0 {
		t.Error("token stored despite invalid request")
	}
}

func TestRevokeTokenInvalidatesCache(t *testing.T) {
	svc, _, cache, audit, _ := newTokenFixture()
	ctx := context.Background()
	owner := tenant.Identity{OrganizationID: uuid.NewString(), UserID: uuid.NewString()}

	created, err := svc.MintToken(ctx, owner, models.CreateTokenRequest{Name: "ci"})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	other := tenant.Identity{OrganizationID: uuid.NewString(), UserID: owner.UserID}
	if err := svc.RevokeToken(ctx, other, created.ID); !errors.Is(err, models.ErrTokenNotFound) {
		t.Errorf("foreign revoke = %v, want ErrTokenNotFound", err)
	}
	if len(cache.invalidated) != 0 {
		t.Error("cache invalidated for a failed revoke")
	}

	if err := svc.RevokeToken(ctx, owner, created.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != created.ID {
		t.Errorf("invalidated = %v", cache.invalidated)
	}

	actions := audit.actions()
	if actions[len(actions)-1] != models.AuditTokenRevoked {
		t.Errorf("audit = %v", actions)
	}
}
