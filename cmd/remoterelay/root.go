package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/remoterelay-bridge/migrations"

	"github.com/nerrad567/remoterelay-bridge/internal/entry"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/config"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/database"
	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/logging"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Default .env file path
const defaultEnvFile = ".env"

var (
	flagConfig  string
	flagEnvFile string
)

var rootCmd = &cobra.Command{
	Use:   "remoterelay",
	Short: "RemoteRelay bridge",
	Long: `remoterelay pairs with RemoteRelay daemons on Windows PCs and exposes
their remote control, input selection and Wake-on-LAN over a REST API,
a WebSocket feed and MQTT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.LoadDotEnv(flagEnvFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (env: REMOTERELAY_CONFIG, default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", defaultEnvFile, "Environment file loaded before the config")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("remoterelay %s (commit %s, built %s)\n", version, commit, date))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then REMOTERELAY_CONFIG, then the default.
func getConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if path := os.Getenv("REMOTERELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// openStore opens and migrates the database and returns the entry repository.
// The caller closes the returned DB.
func openStore(ctx context.Context, cfg *config.Config) (*database.DB, *entry.SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, entry.NewSQLiteRepository(db.DB), nil
}

// cliLogger logs to stderr so command output on stdout stays parseable.
func cliLogger(cfg *config.Config) *logging.Logger {
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	return logging.New(logCfg, version)
}
