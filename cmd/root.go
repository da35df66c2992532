package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/voice-supervisor/internal/config"
	"github.com/spf13/cobra"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "voice-supervisor",
	Short: "Keeps bot credentials present in Discord voice channels",
	Long: `voice-supervisor joins bot credentials to voice channels and keeps them there:
it verifies presence on an interval, rejoins with bounded backoff and expires old sessions.

Without a subcommand the API is started (same as "voice-supervisor api").
Session history needs PostgreSQL (HISTORY_ENABLED); REDIS_ADDR enables the
cross-instance credential lease.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadEnv,
	RunE:              runAPI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadEnv fills the environment from the dotenv file; variables already set win.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	_ = godotenv.Load("../.env")
	if logLevel != "" {
		return os.Setenv("LOG_LEVEL", logLevel)
	}
	return nil
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
