package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/moneylens/internal/database"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Create or update the transaction store schema (departments, users,
ledger entries, state history, anchor outbox and audit logs) and its
composite indexes. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}

		logger.WithField("driver", cfg.Database.Driver).Info("connecting to database")
		db, err := database.ConnectWithRetry(context.Background(), cfg.Database, 3, time.Second, database.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer database.Close(db)

		logger.Info("running database migrations")
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if err := database.CreateIndexes(db); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
