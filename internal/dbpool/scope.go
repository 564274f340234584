package dbpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

type scopeConfig struct {
	accessMode pgx.TxAccessMode
	bypass     *Bypass
}

// ScopeOption configures a tenant transaction.
type ScopeOption func(*scopeConfig)

// ReadOnly opens the transaction in read-only mode.
func ReadOnly() ScopeOption {
	return func(c *scopeConfig) { c.accessMode = pgx.ReadOnly }
}

// WithBypass lets the transaction see every organization's rows.
// The Bypass must come from GrantBypass.
func WithBypass(b Bypass) ScopeOption {
	return func(c *scopeConfig) { c.bypass = &b }
}

// ValidateIdentity checks that both identifiers are present UUIDs.
func ValidateIdentity(id tenant.Identity) error {
	if id.OrganizationID == "" {
		return fmt.Errorf("%w: %w", models.ErrInvalidTenant, models.ErrMissingOrganization)
	}

	if id.UserID == "" {
		return fmt.Errorf("%w: %w", models.ErrInvalidTenant, models.ErrMissingUser)
	}

	for _, v := range []string{id.OrganizationID, id.UserID} {
		if !models.IsUUID(v) {
			return fmt.Errorf("%w: %q is not a UUID", models.ErrInvalidTenant, v)
		}
	}

	return nil
}

// BeginTenant opens a transaction whose tenant settings live exactly as long
// as the transaction. The caller must Commit or Rollback; either one returns
// the connection to the pool.
func (p *Pool) BeginTenant(ctx context.Context, id tenant.Identity, opts ...ScopeOption) (pgx.Tx, error) {
	if err := ValidateIdentity(id); err != nil {
		return nil, err
	}

	var cfg scopeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.bypass != nil && !cfg.bypass.Valid() {
		return nil, &models.AuthorizationError{UserID: id.UserID, Action: "bypass row-level security"}
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: cfg.accessMode})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	p.applyLocal(ctx, tx, id, cfg.bypass)

	return tx, nil
}

// applyLocal writes transaction-local settings inside a savepoint so that a
// failure rolls back only the savepoint and the transaction stays usable.
func (p *Pool) applyLocal(ctx context.Context, tx pgx.Tx, id tenant.Identity, bypass *Bypass) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		p.warnTenantConfig(&models.TenantConfigError{Scope: "transaction", Err: err}, id)

		return
	}

	err = applySettings(ctx, sp, id, true)
	if err == nil && bypass != nil {
		_, err = sp.Exec(ctx, "SELECT set_config($1, 'on', true)", SettingBypass)
	}

	if err != nil {
		sp.Rollback(ctx) //nolint:errcheck // rolling back to the savepoint, the outer tx carries on.
		p.warnTenantConfig(&models.TenantConfigError{Scope: "transaction", Err: err}, id)

		return
	}

	if err := sp.Commit(ctx); err != nil {
		p.warnTenantConfig(&models.TenantConfigError{Scope: "transaction", Err: err}, id)
	}
}

// WithTenant runs fn inside a tenant transaction. The transaction commits
// when fn returns nil and rolls back on error or panic.
func (p *Pool) WithTenant(ctx context.Context, id tenant.Identity, fn func(ctx context.Context, tx pgx.Tx) error, opts ...ScopeOption) (err error) {
	tx, err := p.BeginTenant(ctx, id, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // re-panicking below.
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.log.WithError(rbErr).Warn("rollback failed")
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
