package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config holds retry policy settings
type Config struct {
	MaxAttempts int           `toml:"max_attempts"`
	Delay       time.Duration `toml:"delay"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       30 * time.Second,
	}
}

// transientError marks an error as retry-eligible
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// fatalError marks an error as retry-ineligible
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Transient wraps err so the policy will retry it.
// Classification is always supplied by the caller, never inferred here.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Fatal wraps err so the policy will never retry it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsTransient reports whether err was classified as transient.
// Unclassified errors are treated as fatal: retrying an unknown failure
// mode risks repeating a non-idempotent operation.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// ExhaustedError is returned when all attempts have been used up.
// It carries the last underlying error and the number of attempts made.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Policy executes a single unit of work with bounded retries.
// The delay between attempts is fixed, not exponential, so that the
// worst-case wall time of a job stays predictable for scheduling windows.
type Policy struct {
	config Config
	logger *slog.Logger
}

// NewPolicy creates a retry policy with the given configuration
func NewPolicy(config Config, logger *slog.Logger) (*Policy, error) {
	if config.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry: max_attempts must be at least 1, got %d", config.MaxAttempts)
	}
	if config.Delay < 0 {
		return nil, fmt.Errorf("retry: delay must not be negative, got %s", config.Delay)
	}

	return &Policy{
		config: config,
		logger: logger,
	}, nil
}

// MaxAttempts returns the configured attempt limit
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Execute runs fn until it succeeds, fails fatally, or attempts are exhausted.
// It returns the number of attempts made alongside the final error.
// Attempts are strictly sequential; ctx cancellation is honored between
// attempts but never interrupts a running attempt.
func (p *Policy) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		if !IsTransient(err) {
			// Fatal failures are never retried, regardless of remaining attempts
			return attempt, err
		}

		lastErr = err

		if attempt == p.config.MaxAttempts {
			break
		}

		p.logger.Warn("transient failure, will retry",
			"unit", name,
			"attempt", attempt,
			"max_attempts", p.config.MaxAttempts,
			"delay", p.config.Delay,
			"error", err)

		if err := p.wait(ctx); err != nil {
			return attempt, err
		}
	}

	return p.config.MaxAttempts, &ExhaustedError{
		Attempts: p.config.MaxAttempts,
		Err:      lastErr,
	}
}

// wait sleeps for the configured delay or until ctx is cancelled
func (p *Policy) wait(ctx context.Context) error {
	if p.config.Delay == 0 {
		return nil
	}

	timer := time.NewTimer(p.config.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
