// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyhold/internal/auth/mongodb"
	"github.com/holomush/keyhold/internal/config"
	"github.com/holomush/keyhold/internal/store"
)

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Applied() ([]uint, error)
	Close() error
}

// migratorFactory opens a Migrator. Tests replace it.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the account store schema",
		Long: `Apply, roll back or inspect the PostgreSQL schema migrations. With the
mongo driver, "migrate up" creates the collection indexes instead.`,
	}

	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMongo {
				return ensureMongoIndexes(cmd.Context(), cmd, cfg)
			}
			return withMigrator(cfg, func(m Migrator) error {
				if steps > 0 {
					return m.Steps(steps)
				}
				return m.Up()
			}, cmd, "Migrations applied")
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "apply at most this many migrations (0 = all)")

	var downSteps int
	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && downSteps < 1 {
				return oops.Code("INVALID_STEPS").Errorf("pass --steps N or --all")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withMigrator(cfg, func(m Migrator) error {
				if all {
					return m.Down()
				}
				return m.Steps(-downSteps)
			}, cmd, "Migrations rolled back")
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withMigrator(cfg, func(m Migrator) error {
				return printStatus(cmd, m)
			}, cmd, "")
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long:  `Mark VERSION as applied and clear the dirty flag after a failed migration was repaired by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return withMigrator(cfg, func(m Migrator) error {
				return m.Force(v)
			}, cmd, fmt.Sprintf("Schema version forced to %d", v))
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func withMigrator(cfg *config.Config, fn func(Migrator) error, cmd *cobra.Command, done string) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return oops.Code("CONFIG_INVALID").With("driver", cfg.Database.Driver).
			Errorf("migrations apply to the postgres driver only")
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}

	m, err := migratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	if err := fn(m); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	if done != "" {
		cmd.Println(done)
	}
	return nil
}

func printStatus(cmd *cobra.Command, m Migrator) error {
	current, dirty, err := m.Version()
	if err != nil {
		return err
	}
	applied, err := m.Applied()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("Current version: %d (%s)\n", current, state)
	cmd.Printf("Applied: %s\n", joinVersions(applied))
	cmd.Printf("Pending: %s\n", joinVersions(pending))
	return nil
}

func joinVersions(vs []uint) string {
	if len(vs) == 0 {
		return "none"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = strconv.FormatUint(uint64(v), 10)
		}
		parts[i] = name
	}
	return strings.Join(parts, ", ")
}

// parseForceVersion accepts a non-negative integer or -1 (no version).
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < -1 {
		return 0, oops.Code("INVALID_VERSION").With("version", s).Errorf("version must be an integer >= -1")
	}
	return v, nil
}

func ensureMongoIndexes(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	db, err := mongodb.Connect(ctx, cfg.Database.URL, cfg.Database.MongoDatabase)
	if err != nil {
		return err
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }() //nolint:errcheck // best-effort close

	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return err
	}
	cmd.Println("Indexes ensured")
	return nil
}
