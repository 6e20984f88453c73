package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/cargo-registry-server/database"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	dbCfg, connString, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	if !yes {
		prompt := fmt.Sprintf("About to apply migrations to %s@%s:%d/%s. Continue?",
			dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Database)
		if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt) {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	slog.Info("Applying database migrations")
	if err := database.MigrateUp(connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	displayMigrationVersion(connString, false)
	return nil
}

func displayMigrationVersion(connString string, wentDown bool) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil && wentDown:
		slog.Info("Database schema has been completely removed")
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state, manual intervention may be required", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}
}
