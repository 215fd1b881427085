package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
	"github.com/mercatorlabs/marketsync/internal/retry"
)

// RecordStore persists execution records
type RecordStore interface {
	AppendExecutionRecord(rec *db.ExecutionRecord) error
}

// LockManager provides per-job mutual exclusion
type LockManager interface {
	Acquire(jobName string, maxAge time.Duration) (*lock.Lock, error)
	Release(lk *lock.Lock) error
}

// Config holds orchestrator settings
type Config struct {
	// LockAgeMultiplier scales a job's max execution time into the age at
	// which its lock may be reclaimed as stale
	LockAgeMultiplier float64 `toml:"lock_age_multiplier"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		LockAgeMultiplier: 2.0,
	}
}

// Orchestrator drives one workflow run: it resolves dependency order,
// acquires locks, invokes job bodies through the retry policy, and
// records outcomes. Job execution is strictly sequential; concurrency
// across jobs comes from separate OS processes under the lock discipline,
// never from in-process parallelism.
type Orchestrator struct {
	graph       *DependencyGraph
	entrypoints map[string]JobFunc
	store       RecordStore
	locks       LockManager
	retry       *retry.Policy
	config      Config
	logger      *slog.Logger

	// Overridable in tests
	now func() time.Time
}

// NewOrchestrator creates an orchestrator for the given graph.
// Every job's entrypoint must be resolvable; a dangling entrypoint
// reference is a configuration error, caught before any run starts.
func NewOrchestrator(
	graph *DependencyGraph,
	entrypoints map[string]JobFunc,
	store RecordStore,
	locks LockManager,
	policy *retry.Policy,
	config Config,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if config.LockAgeMultiplier <= 0 {
		config.LockAgeMultiplier = DefaultConfig().LockAgeMultiplier
	}

	for _, job := range graph.Order() {
		if _, ok := entrypoints[job.Entrypoint]; !ok {
			return nil, fmt.Errorf("workflow: job %q references unknown entrypoint %q", job.Name, job.Entrypoint)
		}
	}

	return &Orchestrator{
		graph:       graph,
		entrypoints: entrypoints,
		store:       store,
		locks:       locks,
		retry:       policy,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Run executes one workflow cycle.
// Job-level failures are contained: a failing job never aborts the run,
// it only causes its dependents to be skipped. The returned result always
// carries one outcome per job in the graph.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	workflowID := uuid.New().String()
	startedAt := o.now()

	o.logger.Info("workflow run starting",
		"workflow_id", workflowID,
		"jobs", o.graph.Len())

	statuses := make(map[string]JobStatus, o.graph.Len())
	outcomes := make([]JobOutcome, 0, o.graph.Len())

	for _, job := range o.graph.Order() {
		if failedDep := o.unsatisfiedDependency(job, statuses); failedDep != "" {
			o.logger.Warn("skipping job, dependency did not succeed",
				"workflow_id", workflowID,
				"job", job.Name,
				"dependency", failedDep)

			outcome := JobOutcome{
				JobName:    job.Name,
				Status:     StatusSkipped,
				SkipReason: SkipDependencyFailed,
			}
			statuses[job.Name] = StatusSkipped
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome := o.runJob(ctx, workflowID, job)
		statuses[job.Name] = outcome.Status
		outcomes = append(outcomes, outcome)
	}

	result := &Result{
		WorkflowID: workflowID,
		Status:     aggregate(outcomes),
		StartedAt:  startedAt,
		Duration:   o.now().Sub(startedAt),
		Outcomes:   outcomes,
	}

	o.logger.Info("workflow run finished",
		"workflow_id", workflowID,
		"status", result.Status,
		"duration", result.Duration)

	return result
}

// RunSingle executes one job by name under the usual lock and retry
// discipline, outside of dependency sequencing. This backs the
// single-job CLI entry point.
func (o *Orchestrator) RunSingle(ctx context.Context, jobName string) (*JobOutcome, error) {
	job, ok := o.graph.Job(jobName)
	if !ok {
		return nil, fmt.Errorf("workflow: unknown job %q", jobName)
	}

	workflowID := uuid.New().String()
	outcome := o.runJob(ctx, workflowID, job)
	return &outcome, nil
}

// unsatisfiedDependency returns the name of the first dependency that did
// not reach Success in this run, or empty if the job may start
func (o *Orchestrator) unsatisfiedDependency(job JobDefinition, statuses map[string]JobStatus) string {
	for _, dep := range job.DependsOn {
		if statuses[dep] != StatusSuccess {
			return dep
		}
	}
	return ""
}

// runJob acquires the job's lock, executes its body through the retry
// policy, appends the execution record, and releases the lock on every
// exit path.
func (o *Orchestrator) runJob(ctx context.Context, workflowID string, job JobDefinition) (outcome JobOutcome) {
	outcome = JobOutcome{JobName: job.Name, Status: StatusPending}

	lockAge := time.Duration(float64(job.MaxExecutionSeconds)*o.config.LockAgeMultiplier) * time.Second

	lk, err := o.locks.Acquire(job.Name, lockAge)
	if err != nil {
		if err == lock.ErrAlreadyLocked {
			// The concurrency guard, not an error: another instance holds
			// the job. No execution record is written for a non-attempt.
			o.logger.Info("skipping job, already running elsewhere",
				"workflow_id", workflowID,
				"job", job.Name)
			outcome.Status = StatusSkipped
			outcome.SkipReason = SkipAlreadyRunning
			return outcome
		}

		o.logger.Error("lock acquisition failed",
			"workflow_id", workflowID,
			"job", job.Name,
			"error", err)
		outcome.Status = StatusFailed
		outcome.Err = err
		o.appendRecord(workflowID, job, o.now(), outcome)
		return outcome
	}

	// Guaranteed on every exit path, including a panicking job body
	defer func() {
		if err := o.locks.Release(lk); err != nil {
			o.logger.Error("lock release failed",
				"workflow_id", workflowID,
				"job", job.Name,
				"error", err)
		}
	}()

	entry := o.entrypoints[job.Entrypoint]
	startedAt := o.now()
	outcome.Status = StatusRunning

	o.logger.Info("job starting",
		"workflow_id", workflowID,
		"job", job.Name,
		"entrypoint", job.Entrypoint)

	var processed int64
	attempts, runErr := o.retry.Execute(ctx, job.Name, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job body panicked: %v", r)
			}
		}()

		n, err := entry(ctx)
		if err != nil {
			return err
		}
		processed = n
		return nil
	})

	outcome.Attempts = attempts
	outcome.Duration = o.now().Sub(startedAt)
	outcome.RecordsProcessed = processed

	if runErr != nil {
		outcome.Status = StatusFailed
		outcome.Err = runErr
		o.logger.Error("job failed",
			"workflow_id", workflowID,
			"job", job.Name,
			"attempts", attempts,
			"duration", outcome.Duration,
			"error", runErr)
	} else {
		outcome.Status = StatusSuccess
		o.logger.Info("job succeeded",
			"workflow_id", workflowID,
			"job", job.Name,
			"attempts", attempts,
			"duration", outcome.Duration,
			"records_processed", processed)
	}

	o.appendRecord(workflowID, job, startedAt, outcome)
	return outcome
}

// appendRecord persists the final record for a job attempt.
// A write failure is logged and contained; the in-memory outcome still
// stands and the workflow continues.
func (o *Orchestrator) appendRecord(workflowID string, job JobDefinition, startedAt time.Time, outcome JobOutcome) {
	rec := &db.ExecutionRecord{
		WorkflowID:       workflowID,
		JobName:          job.Name,
		Status:           string(outcome.Status),
		StartedAt:        startedAt,
		DurationSeconds:  outcome.Duration.Seconds(),
		RecordsProcessed: outcome.RecordsProcessed,
		Attempts:         outcome.Attempts,
	}

	if outcome.Err != nil {
		msg := outcome.Err.Error()
		rec.Error = &msg
	}

	if err := o.store.AppendExecutionRecord(rec); err != nil {
		o.logger.Error("failed to append execution record",
			"workflow_id", workflowID,
			"job", job.Name,
			"error", err)
	}
}
