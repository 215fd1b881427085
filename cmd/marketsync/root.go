package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mercatorlabs/marketsync/internal/config"
	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
	"github.com/mercatorlabs/marketsync/internal/market"
	"github.com/mercatorlabs/marketsync/internal/retry"
	"github.com/mercatorlabs/marketsync/internal/workflow"
	"github.com/mercatorlabs/marketsync/tools/migrator"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

// errAlertsRaised distinguishes "alerts found" from operational failure
// so the monitor command can exit 2 instead of 1
var errAlertsRaised = errors.New("alerts raised")

var rootCmd = &cobra.Command{
	Use:           "marketsync",
	Short:         "Marketplace ETL workflow coordinator",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger = newLogger(cfg.Logging)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (TOML)")
}

// Execute runs the CLI and maps outcomes onto exit codes: 0 for success,
// 1 for operational failure, 2 when the monitor raised alerts.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errAlertsRaised) {
			return 2
		}
		if logger != nil {
			logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func newLogger(logging config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	options := &slog.HandlerOptions{Level: level}
	if logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

// openDatabase opens the state database and brings its schema up to date
func openDatabase() (*db.DB, error) {
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.SkipMigrations {
		logger.Info("skipping migrations", "reason", "configured to skip")
		return database, nil
	}

	if err := migrator.RunMigrations(database.DB, cfg.Database.MigrationsDir); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := migrator.GetCurrentVersion(database.DB)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	logger.Info("database schema ready", "version", version)

	return database, nil
}

// buildOrchestrator wires the configured job graph to the marketplace
// sync entrypoints
func buildOrchestrator(database *db.DB) (*workflow.Orchestrator, error) {
	locker, err := lock.NewLocker(cfg.Locks, logger)
	if err != nil {
		return nil, err
	}

	policy, err := retry.NewPolicy(cfg.Retry, logger)
	if err != nil {
		return nil, err
	}

	client, err := market.NewHTTPClient(cfg.Market)
	if err != nil {
		return nil, err
	}
	syncer := market.NewSyncer(client, database.Staging(), cfg.Market, logger)

	graph, err := workflow.NewDependencyGraph(cfg.Workflow.Jobs)
	if err != nil {
		return nil, err
	}

	return workflow.NewOrchestrator(
		graph,
		syncer.Entrypoints(),
		database,
		locker,
		policy,
		workflow.Config{LockAgeMultiplier: cfg.Workflow.LockAgeMultiplier},
		logger,
	)
}
