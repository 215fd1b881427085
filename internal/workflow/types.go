package workflow

import (
	"context"
	"time"
)

// JobStatus is the per-run state of a single job.
// Transitions: Pending → Running → {Success, Failed, Skipped}.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
	StatusSkipped JobStatus = "skipped"
)

// SkipReason distinguishes why a job was not attempted.
// Neither reason is an error condition: dependency skips are contained
// failures of an upstream job, and contention skips are the concurrency
// guard working as intended.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipDependencyFailed SkipReason = "dependency_failed"
	SkipAlreadyRunning   SkipReason = "already_running"
)

// WorkflowStatus is the aggregate outcome of one workflow run
type WorkflowStatus string

const (
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowPartial WorkflowStatus = "partial"
	WorkflowFailed  WorkflowStatus = "failed"
)

// JobDefinition declares a single named unit of ETL work.
// Definitions are loaded at startup and immutable afterwards.
type JobDefinition struct {
	Name                string   `toml:"name"`
	Entrypoint          string   `toml:"entrypoint"`
	DependsOn           []string `toml:"depends_on"`
	MaxExecutionSeconds int      `toml:"max_execution_seconds"`
	Schedule            string   `toml:"schedule"`
}

// JobFunc is the body of a job. It returns the number of records processed.
// Errors should be classified with retry.Transient or retry.Fatal; an
// unclassified error is treated as fatal.
type JobFunc func(ctx context.Context) (int64, error)

// JobOutcome is the per-job result of a workflow run
type JobOutcome struct {
	JobName          string
	Status           JobStatus
	SkipReason       SkipReason
	Attempts         int
	Duration         time.Duration
	RecordsProcessed int64
	Err              error
}

// Result is the aggregate outcome of one workflow run
type Result struct {
	WorkflowID string
	Status     WorkflowStatus
	StartedAt  time.Time
	Duration   time.Duration
	Outcomes   []JobOutcome
}

// Outcome returns the outcome for a given job name, if present
func (r *Result) Outcome(jobName string) (JobOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.JobName == jobName {
			return o, true
		}
	}
	return JobOutcome{}, false
}

// aggregate derives the workflow status from per-job outcomes.
// Success requires every non-skipped job to have succeeded; a mix of
// successes and failures is partial; failures with no successes is failed.
func aggregate(outcomes []JobOutcome) WorkflowStatus {
	var succeeded, failed int
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		}
	}

	switch {
	case failed == 0:
		return WorkflowSuccess
	case succeeded > 0:
		return WorkflowPartial
	default:
		return WorkflowFailed
	}
}
