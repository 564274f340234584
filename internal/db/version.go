package db

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rhesis-ai/rhesis/internal/db/migrations"
	"github.com/rhesis-ai/rhesis/internal/dbpool"
)

// SchemaVersion returns the number of embedded SQL migration files, which
// equals the schema version this binary expects.
func SchemaVersion() int {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return 0
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			count++
		}
	}

	return count
}

// SchemaChecker reports whether the database schema matches this binary.
type SchemaChecker struct {
	pool    *dbpool.Pool
	current atomic.Bool
}

// NewSchemaChecker creates a SchemaChecker.
func NewSchemaChecker(pool *dbpool.Pool) *SchemaChecker {
	return &SchemaChecker{pool: pool}
}

// CheckSchema fails when migrations are pending. Row-level security policies
// ship with the tables, so serving against an older schema is refused.
// Once the schema has been seen current the result is remembered.
func (s *SchemaChecker) CheckSchema(ctx context.Context) error {
	if s.current.Load() {
		return nil
	}

	provider, sqlDB, err := openProvider(s.pool, migrations.FS)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	pending, err := provider.HasPending(ctx)
	if err != nil {
		return fmt.Errorf("checking pending migrations: %w", err)
	}

	if pending {
		return fmt.Errorf("schema behind: %d migration(s) expected, run `rhesis migrate`", SchemaVersion())
	}

	s.current.Store(true)

	return nil
}
