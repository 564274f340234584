package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
)

// ErrPrivilegedRole is returned when the pool's role ignores row-level
// security, as superusers and BYPASSRLS roles do.
var ErrPrivilegedRole = errors.New("database role bypasses row-level security")

// RoleChecker verifies that pooled sessions are subject to the tenant
// isolation policies.
type RoleChecker struct {
	pool *dbpool.Pool
}

// NewRoleChecker creates a RoleChecker.
func NewRoleChecker(pool *dbpool.Pool) *RoleChecker {
	return &RoleChecker{pool: pool}
}

// CheckRole fails with ErrPrivilegedRole when the effective role of a pooled
// session is a superuser or has BYPASSRLS.
func (r *RoleChecker) CheckRole(ctx context.Context) error {
	var (
		role       string
		privileged bool
	)

	err := r.pool.QueryRow(ctx,
		"SELECT current_user, rolsuper OR rolbypassrls FROM pg_roles WHERE rolname = current_user",
	).Scan(&role, &privileged)
	if err != nil {
		return fmt.Errorf("checking database role: %w", err)
	}

	if privileged {
		return fmt.Errorf("%w: %q, set DB_ROLE or connect as an unprivileged role", ErrPrivilegedRole, role)
	}

	return nil
}

// GrantAppRole creates role as an unprivileged, non-login role if it does
// not exist, lets the login role assume it, and grants it data access on
// every table and sequence of the public schema, including ones created by
// later migrations. Like migrations it runs as the login role on its own
// connection.
func GrantAppRole(ctx context.Context, pool *dbpool.Pool, role string) error {
	conn, err := pgx.Connect(ctx, pool.ConnString())
	if err != nil {
		return fmt.Errorf("connecting for role grants: %w", err)
	}
	defer conn.Close(ctx) //nolint:errcheck // one-shot connection.

	name := pgx.Identifier{role}.Sanitize()

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", role).Scan(&exists); err != nil {
		return fmt.Errorf("looking up role %s: %w", role, err)
	}

	if !exists {
		_, err := conn.Exec(ctx, "CREATE ROLE "+name+" NOLOGIN NOSUPERUSER NOBYPASSRLS")
		if err != nil && !isDuplicateRole(err) {
			return fmt.Errorf("creating role %s: %w", role, err)
		}
	}

	for _, stmt := range []string{
		"GRANT " + name + " TO CURRENT_USER",
		"GRANT USAGE ON SCHEMA public TO " + name,
		"GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO " + name,
		"GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO " + name,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO " + name,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO " + name,
	} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("granting %s: %w", role, err)
		}
	}

	return nil
}

// isDuplicateRole reports a concurrent CREATE ROLE that won the race.
func isDuplicateRole(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return pgErr.Code == "42710" || pgErr.Code == "23505"
}
