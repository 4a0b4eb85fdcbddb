package cli

import (
	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/config"
)

var (
	cfg config.Config

	dbPath    string
	redisAddr string
	logMode   string
)

var rootCmd = &cobra.Command{
	Use:   "popgoat",
	Short: "Popup Goat - overlay campaigns with targeting, frequency caps and A/B tests",
	Long: `Popup Goat decides, per page view, whether an overlay campaign should be shown,
which experiment variant a visitor sees, and when an experiment has a winner.

Configuration is read from POPGOAT_* environment variables; flags override them.
Running without a subcommand starts the server (same as 'popgoat serve').`,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
	SilenceUsage:      true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default $POPGOAT_DB_PATH or ./popgoat.db)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "redis address for assignments and frequency records (default $POPGOAT_REDIS_ADDR)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "dev or prod (default $POPGOAT_LOG_MODE or dev)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}

	if dbPath != "" {
		loaded.DBPath = dbPath
	}
	if redisAddr != "" {
		loaded.RedisAddr = redisAddr
	}
	if logMode != "" {
		loaded.LogMode = logMode
	}

	cfg = loaded
	return nil
}
