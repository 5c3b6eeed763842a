package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rollcall-io/rollcall/internal/config"
	"github.com/rollcall-io/rollcall/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending database migrations and exit.
The serve command applies migrations on startup as well; this command exists
for deploy pipelines that migrate before rolling out new instances.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	fmt.Printf("Database schema up to date (%d migrations applied)\n", len(applied))
	for _, version := range applied {
		fmt.Printf("  %s\n", version)
	}
	return nil
}
