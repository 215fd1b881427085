package monitor

import (
	"fmt"
	"time"
)

// Severity classifies how urgent a detected condition is
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns an ordering value for severity comparison
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Metric names produced by evaluation
const (
	MetricDuration            = "duration"
	MetricThroughput          = "throughput"
	MetricConsecutiveFailures = "consecutive_failures"
	MetricStaleLock           = "stale_lock"
)

// AlertEvent is one detected condition, ready for dispatch.
// Events are not persisted by this package; persistence, if any, is the
// notification channel's concern.
type AlertEvent struct {
	Subject  string
	Metric   string
	Severity Severity
	Message  string
	Context  map[string]string
	SentAt   time.Time
}

// Threshold is one configured limit, read-only at runtime.
// A breach occurs when the observed metric value compares true against
// the limit using the given comparator.
type Threshold struct {
	Metric     string   `toml:"metric"`
	Job        string   `toml:"job"` // empty matches all jobs
	Comparator string   `toml:"comparator"`
	Limit      float64  `toml:"limit"`
	Severity   Severity `toml:"severity"`
}

// Config holds monitoring settings
type Config struct {
	// LookbackWindow bounds how far back records are considered
	LookbackWindow time.Duration `toml:"lookback_window"`
	// DurationMultiplier scales a job's max execution time into its
	// duration alert threshold
	DurationMultiplier float64     `toml:"duration_multiplier"`
	Thresholds         []Threshold `toml:"thresholds"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		LookbackWindow:     24 * time.Hour,
		DurationMultiplier: 2.0,
	}
}

// Validate checks the threshold for configuration errors
func (t Threshold) Validate() error {
	switch t.Metric {
	case MetricDuration, MetricThroughput, MetricConsecutiveFailures, MetricStaleLock:
	default:
		return fmt.Errorf("monitor: unknown metric %q", t.Metric)
	}

	switch t.Comparator {
	case "lt", "lte", "gt", "gte":
	default:
		return fmt.Errorf("monitor: unknown comparator %q for metric %s", t.Comparator, t.Metric)
	}

	switch t.Severity {
	case "", SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("monitor: unknown severity %q for metric %s", t.Severity, t.Metric)
	}

	return nil
}

// breached evaluates value against the threshold
func (t Threshold) breached(value float64) bool {
	switch t.Comparator {
	case "lt":
		return value < t.Limit
	case "lte":
		return value <= t.Limit
	case "gt":
		return value > t.Limit
	case "gte":
		return value >= t.Limit
	default:
		return false
	}
}

// appliesTo reports whether the threshold is scoped to the given job
func (t Threshold) appliesTo(jobName string) bool {
	return t.Job == "" || t.Job == jobName
}

// severity returns the configured severity, defaulting to medium
func (t Threshold) severity() Severity {
	if t.Severity == "" {
		return SeverityMedium
	}
	return t.Severity
}
