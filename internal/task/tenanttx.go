package task

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// TxRunner opens tenant transactions. *dbpool.Pool satisfies it.
type TxRunner interface {
	WithTenant(ctx context.Context, id tenant.Identity, fn func(ctx context.Context, tx pgx.Tx) error, opts ...dbpool.ScopeOption) error
}

// TxHandlerFunc is a task body that runs inside a tenant transaction.
type TxHandlerFunc[T any] func(ctx context.Context, tx pgx.Tx, msg *Message) (T, error)

// WithTenantTx wraps fn so it runs in a transaction scoped to the task's
// identity. The transaction commits when fn succeeds and rolls back
// otherwise. A task without a complete, valid identity fails permanently.
func WithTenantTx[T any](runner TxRunner, fn TxHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, msg *Message) (any, error) {
		id := tenant.IdentityFromContext(ctx)
		if err := dbpool.ValidateIdentity(id); err != nil {
			return nil, Permanent(err)
		}

		var result T

		err := runner.WithTenant(ctx, id, func(ctx context.Context, tx pgx.Tx) error {
			var err error
			result, err = fn(ctx, tx, msg)
			return err
		})
		if err != nil {
			return nil, err
		}

		return result, nil
	}
}
