package dbpool

import (
	"context"
	"fmt"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// SuperuserChecker reports whether the identified user is a superuser.
type SuperuserChecker interface {
	IsSuperuser(ctx context.Context, id tenant.Identity) (bool, error)
}

// Bypass is the capability to read and write rows of every organization
// within a single tenant transaction. The zero value grants nothing.
type Bypass struct {
	grantedTo string
}

// Valid reports whether the bypass was issued by GrantBypass.
func (b Bypass) Valid() bool {
	return b.grantedTo != ""
}

// GrantedTo returns the superuser the bypass was issued to.
func (b Bypass) GrantedTo() string {
	return b.grantedTo
}

// GrantBypass checks that id belongs to a superuser and returns a Bypass
// for them. Anyone else gets an AuthorizationError.
func GrantBypass(ctx context.Context, checker SuperuserChecker, id tenant.Identity) (Bypass, error) {
	if id.UserID == "" {
		return Bypass{}, &models.AuthenticationError{Reason: "no user to check for superuser"}
	}

	ok, err := checker.IsSuperuser(ctx, id)
	if err != nil {
		return Bypass{}, fmt.Errorf("checking superuser: %w", err)
	}

	if !ok {
		return Bypass{}, &models.AuthorizationError{UserID: id.UserID, Action: "bypass row-level security"}
	}

	metrics.BypassGrants.Inc()

	return Bypass{grantedTo: id.UserID}, nil
}
