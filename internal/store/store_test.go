package store_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/crypto"
	"github.com/rhesis-ai/rhesis/internal/db"
	"github.com/rhesis-ai/rhesis/internal/db/migrations"
	"github.com/rhesis-ai/rhesis/internal/dbpool"
	"github.com/rhesis-ai/rhesis/internal/store"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// testHexKey is a valid 64-char hex string (32 bytes) for test encryption.
const testHexKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// testAppRole is the unprivileged role store tests run as, so row-level
// security applies even when TEST_DATABASE_URL logs in as a superuser.
const testAppRole = "rhesis_app_test"

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var (
	sharedEnv  *testEnv
	sharedOnce sync.Once
	sharedErr  error
)

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	sharedOnce.Do(func() {
		ctx := context.Background()

		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)

		owner, err := dbpool.NewPool(ctx, dbURL, log, dbpool.WithMinConns(0))
		if err != nil {
			sharedErr = err
			return
		}
		defer owner.Close()

		if err := db.RunMigrations(ctx, owner, log, migrations.FS); err != nil {
			sharedErr = err
			return
		}

		if err := db.GrantAppRole(ctx, owner, testAppRole); err != nil {
			sharedErr = err
			return
		}

		pool, err := dbpool.NewPool(ctx, dbURL, log, dbpool.WithRole(testAppRole))
		if err != nil {
			sharedErr = err
			return
		}

		if err := db.NewRoleChecker(pool).CheckRole(ctx); err != nil {
			pool.Close()
			sharedErr = err
			return
		}

		sharedEnv = &testEnv{pool: pool, log: log}
	})

	if sharedErr != nil {
		t.Fatalf("setting up test DB: %v", sharedErr)
	}

	return sharedEnv
}

func newCryptoService(t *testing.T) *crypto.Service {
	t.Helper()

	provider, err := crypto.NewStaticProvider(testHexKey)
	if err != nil {
		t.Fatalf("creating static provider: %v", err)
	}

	return crypto.NewService(provider)
}

// setupTestBase creates a Base plus a fresh organization and user, removed
// after the test.
func setupTestBase(t *testing.T, superuser bool) (store.Base, tenant.Identity) {
	t.Helper()

	env := getTestEnv(t)
	base := store.Base{Pool: env.pool, Log: env.log, Crypto: newCryptoService(t)}

	org, user, err := store.NewOrganizationStore(base).Bootstrap(context.Background(),
		"test-org", "user-"+uuid.NewString()+"@example.com", "Test User", superuser)
	if err != nil {
		t.Fatalf("bootstrapping organization: %v", err)
	}

	id := tenant.Identity{OrganizationID: org.ID, UserID: user.ID}

	t.Cleanup(func() {
		//nolint:errcheck // best-effort cleanup; cascades remove every tenant row.
		env.pool.WithTenant(context.Background(), id, func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "DELETE FROM organizations WHERE id = $1", id.OrganizationID)
			return err
		})
	})

	return base, id
}
