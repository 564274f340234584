// Package dbpool provides PostgreSQL connection pool management and the
// tenant-aware session handling layered on top of it.
//
// Two mechanisms carry the tenant into Postgres:
//
//   - Session settings: every connection handed out by the pool is configured
//     with app.current_organization and app.current_user taken from the
//     tenant.Store on the acquiring context, and reset when it is released.
//   - Transaction settings: BeginTenant and WithTenant open a transaction
//     whose settings are transaction-local and vanish at commit or rollback.
//
// Row-level security policies in the schema read those settings.
package dbpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Pool wraps a pgxpool.Pool with health checks and tenant session hooks.
// The underlying pool is unexported so every connection goes through the
// hooks installed by NewPool.
type Pool struct {
	pool *pgxpool.Pool
	log  *logrus.Logger

	// configured holds connections carrying session-level tenant settings
	// that must be reset before they return to the pool.
	configured sync.Map // *pgx.Conn -> struct{}
}

// Option adjusts the pgxpool configuration before the pool is created.
type Option func(*pgxpool.Config)

// WithMaxConns overrides the maximum pool size.
func WithMaxConns(n int32) Option {
	return func(cfg *pgxpool.Config) {
		cfg.MaxConns = n
		if cfg.MinConns > n {
			cfg.MinConns = n
		}
	}
}

// WithMinConns overrides the number of idle connections kept open.
func WithMinConns(n int32) Option {
	return func(cfg *pgxpool.Config) { cfg.MinConns = n }
}

// WithRole makes every pooled connection SET ROLE to role once connected.
// Pooled sessions then run with that role's privileges while migrations,
// which open their own connections, keep the login role.
func WithRole(role string) Option {
	return func(cfg *pgxpool.Config) {
		stmt := "SET ROLE " + pgx.Identifier{role}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("setting role %s: %w", role, err)
			}

			return nil
		}
	}
}

// NewPool creates a new PostgreSQL connection pool with sensible defaults.
func NewPool(ctx context.Context, databaseURL string, log *logrus.Logger, opts ...Option) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	cfg.ConnConfig.RuntimeParams["application_name"] = "rhesis"

	cfg.MaxConns = 21 // 20 for queries + 1 for the LISTEN bridge
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	for _, opt := range opts {
		opt(cfg)
	}

	p := &Pool{log: log}
	cfg.PrepareConn = p.prepareConn
	cfg.AfterRelease = p.afterRelease
	cfg.BeforeClose = p.beforeClose

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("pinging database: %w", err)
	}

	p.pool = pool

	return p, nil
}

// Acquire returns a connection from the pool.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	return p.pool.Acquire(ctx)
}

// Exec executes a query that doesn't return rows.
func (p *Pool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, arguments...)
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns at most one row.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Ping verifies the pool can reach the database.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// HealthCheck verifies database connectivity by executing a simple query.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var result int

	err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("health check query: %w", err)
	}

	return nil
}

// ConnString returns the connection string used to create the pool.
func (p *Pool) ConnString() string {
	return p.pool.Config().ConnString()
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.pool.Close()
}
