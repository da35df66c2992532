package cmd

import (
	"errors"
	"fmt"

	"github.com/psds-microservice/voice-supervisor/internal/config"
	"github.com/psds-microservice/voice-supervisor/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the session_events migrations (database/migrations)",
	RunE:  runMigrateUp,
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last --steps migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadDBConfig()
		if err != nil {
			return err
		}
		return database.MigrateDown(cfg.DatabaseURL(), migrateDownSteps)
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.HistoryEnabled {
		return nil, errors.New("migrations need HISTORY_ENABLED=true and a database")
	}
	return cfg, nil
}
