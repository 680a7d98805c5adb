// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenward Contributors

package main

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenward/tokenward/internal/store"
)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
	PendingMigrations() ([]uint, error)
}

// newMigrator is replaced in tests.
var newMigrator = func(url string) (Migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the account schema migrations.
Without a subcommand all pending migrations are applied.`,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return migrateUp(cmd, m)
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return migrateUp(cmd, m)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (one step by default, 0 for all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				steps = n
			}
			if steps == 0 {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			}
			if err := m.Steps(-steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}

			cmd.Printf("Version: %d\n", version)
			if dirty {
				cmd.Println("State:   dirty (run 'migrate force <version>' after fixing the database)")
			}
			if len(pending) == 0 {
				cmd.Println("Pending: none")
				return nil
			}
			cmd.Println("Pending:")
			for _, v := range pending {
				name, err := store.MigrationName(v)
				if err != nil {
					return err
				}
				cmd.Printf("  %s\n", name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", version)
			return nil
		}),
	})

	return cmd
}

func migrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

// withMigrator opens a migrator for the configured database around fn.
func withMigrator(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := readConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").
				With("field", "database.url").
				Errorf("database.url is required (set --database-url or TOKENWARD_DATABASE__URL)")
		}

		m, err := newMigrator(cfg.Database.URL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, m, args)
	}
}

// parseVersion parses a non-negative migration version or step count.
func parseVersion(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, oops.Code("INVALID_VERSION").
			With("input", s).
			Errorf("expected a non-negative integer, got %q", s)
	}
	return n, nil
}
