package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mercatorlabs/marketsync/internal/cron"
	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
	"github.com/mercatorlabs/marketsync/internal/market"
	"github.com/mercatorlabs/marketsync/internal/monitor"
	"github.com/mercatorlabs/marketsync/internal/notify"
	"github.com/mercatorlabs/marketsync/internal/retry"
	"github.com/mercatorlabs/marketsync/internal/workflow"
)

// Config represents the application configuration
type Config struct {
	Database db.Config      `toml:"database"`
	Locks    lock.Config    `toml:"locks"`
	Retry    retry.Config   `toml:"retry"`
	Workflow WorkflowConfig `toml:"workflow"`
	Monitor  monitor.Config `toml:"monitor"`
	Notify   notify.Config  `toml:"notify"`
	Market   market.Config  `toml:"market"`
	Logging  LoggingConfig  `toml:"logging"`
}

// WorkflowConfig holds orchestration settings and the job declarations
type WorkflowConfig struct {
	LockAgeMultiplier float64                  `toml:"lock_age_multiplier"`
	Jobs              []workflow.JobDefinition `toml:"jobs"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "marketsync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			MigrationsDir:   "migrations",
			SkipMigrations:  false,
		},
		Locks: lock.DefaultConfig(),
		Retry: retry.DefaultConfig(),
		Workflow: WorkflowConfig{
			LockAgeMultiplier: workflow.DefaultConfig().LockAgeMultiplier,
		},
		Monitor: monitor.DefaultConfig(),
		Notify:  notify.DefaultConfig(),
		Market:  market.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid.
// Workflow problems are configuration errors: an unschedulable job set
// must stop startup rather than surface at run time.
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Lock validation
	if c.Locks.Dir == "" {
		return fmt.Errorf("locks dir must be specified")
	}
	if c.Locks.MaxAge <= 0 {
		return fmt.Errorf("locks max_age must be positive")
	}

	// Retry validation
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}

	// Workflow validation
	if c.Workflow.LockAgeMultiplier <= 0 {
		return fmt.Errorf("workflow lock_age_multiplier must be positive")
	}
	if len(c.Workflow.Jobs) == 0 {
		return fmt.Errorf("workflow must declare at least one job")
	}
	if _, err := workflow.NewDependencyGraph(c.Workflow.Jobs); err != nil {
		return fmt.Errorf("workflow jobs: %w", err)
	}
	for _, job := range c.Workflow.Jobs {
		if job.MaxExecutionSeconds <= 0 {
			return fmt.Errorf("job %s: max_execution_seconds must be positive", job.Name)
		}
		if job.Schedule != "" {
			if _, err := cron.Parse(job.Schedule); err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
		}
	}

	// Monitor validation
	if c.Monitor.DurationMultiplier <= 0 {
		return fmt.Errorf("monitor duration_multiplier must be positive")
	}
	for _, threshold := range c.Monitor.Thresholds {
		if err := threshold.Validate(); err != nil {
			return fmt.Errorf("monitor threshold: %w", err)
		}
	}

	// Notify validation
	if err := c.Notify.Validate(); err != nil {
		return err
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
