package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rhesis-ai/rhesis/internal/models"
)

// mapError converts driver errors into model sentinels. notFound is returned
// for pgx.ErrNoRows; other errors pass through unchanged.
func mapError(err, notFound error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return models.ErrDuplicateKey
	case pgerrcode.ForeignKeyViolation:
		return models.ErrForeignKey
	case pgerrcode.InvalidTextRepresentation:
		return models.ErrInvalidID
	case pgerrcode.InsufficientPrivilege:
		// Row-level security rejected a write outside the configured tenant.
		return models.ErrForbidden
	}

	return err
}
