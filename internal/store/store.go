// Package store provides focused, single-concern data access stores for
// the tenant-scoped Rhesis entities.
//
// Every store method takes the caller's tenant.Identity and runs inside a
// tenant transaction from dbpool, so row-level security applies. List
// queries and id-based writes additionally filter on organization_id
// explicitly. Stores never
// import each other; shared logic lives in this file or in dedicated helper
// files (encrypt.go, errors.go).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/crypto"
	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const defaultQueryTimeout = 30 * time.Second

// inScopeOrganization restricts a write in a *Tx method, which has no
// Identity at hand, to the organization the enclosing scope set.
const inScopeOrganization = " AND organization_id::text = current_setting('" + dbpool.SettingOrganization + "', true)"

// Base contains shared dependencies for all stores.
// Embed this in each store struct.
type Base struct {
	Pool   *dbpool.Pool
	Log    *logrus.Logger
	Crypto *crypto.Service
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// beginTx starts a read-write tenant transaction.
func (b *Base) beginTx(ctx context.Context, id tenant.Identity, opts ...dbpool.ScopeOption) (pgx.Tx, error) {
	tx, err := b.Pool.BeginTenant(ctx, id, opts...)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return tx, nil
}

// beginReadTx starts a read-only tenant transaction.
func (b *Base) beginReadTx(ctx context.Context, id tenant.Identity, opts ...dbpool.ScopeOption) (pgx.Tx, error) {
	return b.beginTx(ctx, id, append(opts, dbpool.ReadOnly())...)
}

// listPage counts the organization's rows in table and returns one page.
// columns and scan must agree; the ORDER BY comes from normalized params.
func listPage[T any](
	ctx context.Context,
	tx pgx.Tx,
	table, columns, organizationID string,
	p models.ListParams,
	scan func(row pgx.Row) (T, error),
) (models.Page[T], error) {
	var page models.Page[T]

	countSQL := "SELECT count(*) FROM " + table + " WHERE organization_id = $1"
	if err := tx.QueryRow(ctx, countSQL, organizationID).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("counting %s: %w", table, err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE organization_id = $1 %s LIMIT $2 OFFSET $3",
		columns, table, p.OrderBy())

	rows, err := tx.Query(ctx, query, organizationID, p.Limit, p.Skip)
	if err != nil {
		return page, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	page.Items = make([]T, 0, p.Limit)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return page, fmt.Errorf("scanning %s: %w", table, err)
		}

		page.Items = append(page.Items, item)
	}

	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterating %s: %w", table, err)
	}

	return page, nil
}

// ensureVisible checks that id names a row the transaction can see. Foreign
// keys are checked without row-level security, so references to another
// organization's rows must be rejected here.
func ensureVisible(ctx context.Context, tx pgx.Tx, table string, id *string, notFound error) error {
	if id == nil {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", *id).Scan(&exists); err != nil {
		return mapError(err, notFound)
	}

	if !exists {
		return notFound
	}

	return nil
}

// deleteByID deletes one visible row from table.
func deleteByID(ctx context.Context, b *Base, id tenant.Identity, table, rowID string, notFound error) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := b.beginTx(ctx, id)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1 AND organization_id = $2", rowID, id.OrganizationID)
	if err != nil {
		return mapError(err, notFound)
	}

	if tag.RowsAffected() == 0 {
		return notFound
	}

	return tx.Commit(ctx)
}
