package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/merlinn-co/merlinn/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load database config: %w", err)
		}

		db, err := database.Open(ctx, dbConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("Error closing database", "error", err)
			}
		}()

		if err := database.Migrate(ctx, db, dbConfig.Database); err != nil {
			return err
		}
		slog.Info("Migrations applied", "database", dbConfig.Database)
		return nil
	},
}
