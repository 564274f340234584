// Package tenant holds the identity of the organization and user a unit of
// work (an HTTP request or a task attempt) is running on behalf of.
//
// A Store is created per unit of work and attached to its context.Context.
// Nothing is shared between units: two requests served concurrently each
// get their own Store, so one can never observe the other's identity.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrIdentityChanged is returned by Set when a field that is already set
// would be overwritten with a different value.
var ErrIdentityChanged = errors.New("tenant identity cannot change within a unit of work")

// ErrNoStore is returned when a context carries no tenant store.
var ErrNoStore = errors.New("no tenant store in context")

// Identity is the organization and user a unit of work runs as.
// Empty fields mean "not known".
type Identity struct {
	OrganizationID string `json:"organization_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// IsZero reports whether neither field is set.
func (i Identity) IsZero() bool {
	return i.OrganizationID == "" && i.UserID == ""
}

// Complete reports whether both organization and user are set.
func (i Identity) Complete() bool {
	return i.OrganizationID != "" && i.UserID != ""
}

// String renders the identity for log fields.
func (i Identity) String() string {
	return fmt.Sprintf("org=%s user=%s", orDash(i.OrganizationID), orDash(i.UserID))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// Store is the per-unit-of-work identity holder.
type Store struct {
	mu sync.RWMutex
	id Identity
}

// Set stores the non-empty fields of id. Empty fields leave the current
// value untouched. Setting a field to the value it already has is a no-op;
// setting it to a different value fails with ErrIdentityChanged and leaves
// the store unchanged.
func (s *Store) Set(id Identity) error {
	if s == nil {
		return ErrNoStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id.OrganizationID != "" && s.id.OrganizationID != "" && id.OrganizationID != s.id.OrganizationID {
		return fmt.Errorf("organization %s -> %s: %w", s.id.OrganizationID, id.OrganizationID, ErrIdentityChanged)
	}

	if id.UserID != "" && s.id.UserID != "" && id.UserID != s.id.UserID {
		return fmt.Errorf("user %s -> %s: %w", s.id.UserID, id.UserID, ErrIdentityChanged)
	}

	if id.OrganizationID != "" {
		s.id.OrganizationID = id.OrganizationID
	}

	if id.UserID != "" {
		s.id.UserID = id.UserID
	}

	return nil
}

// Get returns the current identity. A nil store yields the zero identity.
func (s *Store) Get() Identity {
	if s == nil {
		return Identity{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

// Clear resets both fields. Clearing an empty or nil store is a no-op.
func (s *Store) Clear() {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.id = Identity{}
	s.mu.Unlock()
}

type storeKey struct{}

// NewContext attaches a fresh, empty Store to ctx. Any store already on
// ctx is shadowed, so a new unit of work always starts cleared.
func NewContext(ctx context.Context) (context.Context, *Store) {
	s := &Store{}

	return context.WithValue(ctx, storeKey{}, s), s
}

// WithIdentity attaches a fresh Store populated with id.
func WithIdentity(ctx context.Context, id Identity) (context.Context, *Store) {
	ctx, s := NewContext(ctx)
	s.id = id

	return ctx, s
}

// FromContext returns the Store attached to ctx, or nil.
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(storeKey{}).(*Store)

	return s
}

// IdentityFromContext is shorthand for FromContext(ctx).Get().
func IdentityFromContext(ctx context.Context) Identity {
	return FromContext(ctx).Get()
}

type requestIDKey struct{}

// WithRequestID records the id of the request that started this unit of
// work. Tasks submitted under ctx carry it so their logs can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id recorded on ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)

	return id
}
