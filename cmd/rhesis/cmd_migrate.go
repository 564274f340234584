package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rhesis-ai/rhesis/internal/db"
	"github.com/rhesis-ai/rhesis/internal/db/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateStatusCmd())
	cmd.AddCommand(migrateGrantRoleCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			if err := db.RunMigrations(ctx, a.pool, a.log, migrations.FS); err != nil {
				fatal("migrate up", err)
			}
			fmt.Printf("schema at version %d\n", db.SchemaVersion())
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			if err := db.RollbackMigration(ctx, a.pool, a.log, migrations.FS); err != nil {
				fatal("migrate down", err)
			}
		},
	}
}

type migrationRow struct {
	Version int64  `json:"version"`
	Source  string `json:"source"`
	State   string `json:"state"`
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			statuses, err := db.MigrationStatus(ctx, a.pool, migrations.FS)
			if err != nil {
				fatal("migrate status", err)
			}

			rows := make([]migrationRow, 0, len(statuses))
			for _, s := range statuses {
				rows = append(rows, migrationRow{
					Version: s.Source.Version,
					Source:  s.Source.Path,
					State:   string(s.State),
				})
			}
			output(rows, strconv.Itoa(len(rows)))
		},
	}
}

func migrateGrantRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role <role>",
		Short: "Create an unprivileged role for DB_ROLE and grant it data access",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				fatal("startup", err)
			}
			defer a.close()

			if err := db.GrantAppRole(ctx, a.pool, args[0]); err != nil {
				fatal("grant role", err)
			}
			fmt.Printf("role %s can be used as DB_ROLE\n", args[0])
		},
	}
}
