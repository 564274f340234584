package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const userColumns = `id, organization_id, email, name, is_superuser, created_at`

var userSortColumns = []string{"created_at", "email", "name"}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.IsSuperuser, &u.CreatedAt)

	return u, err
}

// UserStore handles users of an organization.
type UserStore struct {
	Base
}

// NewUserStore creates a new UserStore.
func NewUserStore(base Base) *UserStore {
	return &UserStore{Base: base}
}

// Create adds a user to the caller's organization.
func (s *UserStore) Create(ctx context.Context, id tenant.Identity, email, name string, superuser bool) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	u, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO users (id, organization_id, email, name, is_superuser)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		uuid.NewString(), id.OrganizationID, email, name, superuser))
	if err != nil {
		return nil, mapError(err, models.ErrUserNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing create user: %w", err)
	}

	return &u, nil
}

// Get returns a user by id.
func (s *UserStore) Get(ctx context.Context, id tenant.Identity, userID string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	u, err := scanUser(tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return nil, mapError(err, models.ErrUserNotFound)
	}

	return &u, nil
}

// IsSuperuser reports whether the identified user is a superuser. A user
// that is not visible in its own organization is not one.
func (s *UserStore) IsSuperuser(ctx context.Context, id tenant.Identity) (bool, error) {
	u, err := s.Get(ctx, id, id.UserID)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return u.IsSuperuser, nil
}

// List returns the organization's users.
func (s *UserStore) List(ctx context.Context, id tenant.Identity, p models.ListParams) (models.Page[models.User], error) {
	if err := p.Normalize(userSortColumns); err != nil {
		return models.Page[models.User]{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginReadTx(ctx, id)
	if err != nil {
		return models.Page[models.User]{}, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	return listPage(ctx, tx, "users", userColumns, id.OrganizationID, p, scanUser)
}
