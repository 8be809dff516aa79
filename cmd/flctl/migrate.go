package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/facelinker/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	stores, err := app.OpenStores(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer stores.Close()

	if stores.Postgres == nil {
		return fmt.Errorf("migrate requires database.driver postgres, got %q", cfg.Database.Driver)
	}
	if err := stores.Postgres.Migrate(ctx); err != nil {
		return err
	}

	applied, err := stores.Postgres.AppliedMigrations(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema up to date (%d migrations applied)\n", len(applied))
	for _, name := range applied {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
