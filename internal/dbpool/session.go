package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Server-side settings read by the row-level security policies.
const (
	SettingOrganization = "app.current_organization"
	SettingUser         = "app.current_user"
	SettingBypass       = "app.bypass_rls"
)

const resetTimeout = 5 * time.Second

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// applySettings writes the identity into the session (local=false) or the
// current transaction (local=true). Missing fields are written as the empty
// string, which the policies treat as "no tenant".
func applySettings(ctx context.Context, db execer, id tenant.Identity, local bool) error {
	for _, v := range []string{id.OrganizationID, id.UserID} {
		if v != "" && !models.IsUUID(v) {
			return fmt.Errorf("%w: %q is not a UUID", models.ErrInvalidTenant, v)
		}
	}

	_, err := db.Exec(ctx,
		"SELECT set_config($1, $2, $5), set_config($3, $4, $5)",
		SettingOrganization, id.OrganizationID, SettingUser, id.UserID, local)
	if err != nil {
		return fmt.Errorf("set_config: %w", err)
	}

	return nil
}

// prepareConn runs on every acquisition. A failure is logged and counted but
// never fails the acquisition: callers still apply explicit organization
// filters, and an unconfigured session matches no tenant rows.
func (p *Pool) prepareConn(ctx context.Context, conn *pgx.Conn) (bool, error) {
	id := tenant.IdentityFromContext(ctx)
	if id.IsZero() {
		return true, nil
	}

	// Mark before applying: a partial failure still needs a reset on release.
	p.configured.Store(conn, struct{}{})

	if err := applySettings(ctx, conn, id, false); err != nil {
		p.warnTenantConfig(&models.TenantConfigError{Scope: "session", Err: err}, id)
	}

	return true, nil
}

// afterRelease clears session settings so the next borrower starts with no
// tenant. A connection that cannot be reset is destroyed.
func (p *Pool) afterRelease(conn *pgx.Conn) bool {
	if _, ok := p.configured.LoadAndDelete(conn); !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	if err := applySettings(ctx, conn, tenant.Identity{}, false); err != nil {
		p.log.WithError(err).Warn("resetting tenant session settings failed, discarding connection")

		return false
	}

	return true
}

func (p *Pool) beforeClose(conn *pgx.Conn) {
	p.configured.Delete(conn)
}

func (p *Pool) warnTenantConfig(err *models.TenantConfigError, id tenant.Identity) {
	metrics.TenantConfigFailures.WithLabelValues(err.Scope).Inc()
	p.log.WithError(err).WithFields(logrus.Fields{
		"organization_id": id.OrganizationID,
		"user_id":         id.UserID,
		"scope":           err.Scope,
	}).Warn("tenant settings not applied, relying on explicit organization filters")
}
