package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/testpulse/pulse/internal/config"
	"github.com/testpulse/pulse/internal/history"
	"github.com/testpulse/pulse/internal/storage"
	"github.com/testpulse/pulse/internal/storage/memory"
	"github.com/testpulse/pulse/internal/storage/postgres"
	"github.com/testpulse/pulse/internal/storage/sqlite"
)

var (
	flagConfig  string
	flagStore   string
	flagDBPath  string
	flagDSN     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Temporal test-health analytics",
	Long: `Pulse ingests test execution results and tracks how test health
evolves over time: coverage shifts, performance regressions, flakiness,
test-to-entity relationships, and obsolescence signals.

Results are stored locally (SQLite by default) and surfaced through
reports, badges, and alerts.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "sqlite", "Storage backend: sqlite, postgres, or memory")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", ".pulse/pulse.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string (or PULSE_POSTGRES_DSN)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// newLogger builds the CLI logger. Debug level requires --verbose.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// loadConfig resolves configuration: file if --config is set,
// environment otherwise.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.FromEnv()
}

// openHistory wires a history store over the selected backend. The
// caller must Close the returned backend.
func openHistory(cfg *config.Config, log zerolog.Logger) (*history.Store, storage.Store, error) {
	var backend storage.Store
	var err error
	switch flagStore {
	case "memory":
		backend = memory.New()
	case "sqlite":
		backend, err = sqlite.New(flagDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
	case "postgres":
		dsn := flagDSN
		if dsn == "" {
			dsn = os.Getenv("PULSE_POSTGRES_DSN")
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend requires --dsn or PULSE_POSTGRES_DSN")
		}
		backend, err = postgres.NewDSN(context.Background(), dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want sqlite, postgres, or memory)", flagStore)
	}
	return history.New(backend, cfg, log), backend, nil
}
