package monitor

import (
	"fmt"
	"time"

	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
)

// JobSpec carries the per-job limits evaluation needs.
// It mirrors the workflow job definition without depending on it.
type JobSpec struct {
	Name                string
	MaxExecutionSeconds int
}

// Monitor evaluates execution telemetry against configured thresholds.
// It is a pure function of its inputs: no hidden state, so evaluation is
// deterministic for any fixture of records.
type Monitor struct {
	config Config
}

// New creates a performance monitor
func New(config Config) *Monitor {
	if config.DurationMultiplier <= 0 {
		config.DurationMultiplier = DefaultConfig().DurationMultiplier
	}
	return &Monitor{config: config}
}

// Evaluate inspects recent execution records for every defined job and
// returns one event per detected condition. Records are expected newest
// first, as returned by the store.
//
// failures carries the per-job consecutive failure count over the full
// execution history, as counted by the store. It exists because the
// supplied records cover only a bounded window: a streak whose failures
// predate the window would otherwise shrink or vanish. A nil map falls
// back to counting streaks from the records themselves.
func (m *Monitor) Evaluate(records []db.ExecutionRecord, jobs []JobSpec, failures map[string]int) []AlertEvent {
	byJob := make(map[string][]db.ExecutionRecord)
	for _, rec := range records {
		byJob[rec.JobName] = append(byJob[rec.JobName], rec)
	}

	events := make([]AlertEvent, 0)
	for _, job := range jobs {
		jobRecords := byJob[job.Name]

		latest := latestCompleted(jobRecords)
		if latest != nil {
			if ev := m.checkDuration(job, *latest); ev != nil {
				events = append(events, *ev)
			}
			if ev := m.checkThroughput(job, *latest); ev != nil {
				events = append(events, *ev)
			}
		}

		// The failure check runs even for jobs with no records in the
		// window; their streak may live entirely in older history
		if ev := m.checkFailures(job, jobRecords, failures); ev != nil {
			events = append(events, *ev)
		}
	}

	return events
}

// latestCompleted returns the newest record that actually ran to
// completion, skipping pending and running entries
func latestCompleted(records []db.ExecutionRecord) *db.ExecutionRecord {
	for i := range records {
		switch records[i].Status {
		case db.RecordStatusSuccess, db.RecordStatusFailed:
			return &records[i]
		}
	}
	return nil
}

// checkDuration compares a record's duration against the job's limit
// scaled by the configured multiplier
func (m *Monitor) checkDuration(job JobSpec, rec db.ExecutionRecord) *AlertEvent {
	if job.MaxExecutionSeconds <= 0 || rec.DurationSeconds <= 0 {
		return nil
	}

	limit := float64(job.MaxExecutionSeconds) * m.config.DurationMultiplier
	if rec.DurationSeconds <= limit {
		return nil
	}

	overshoot := rec.DurationSeconds/limit - 1

	return &AlertEvent{
		Subject:  job.Name,
		Metric:   MetricDuration,
		Severity: ClassifyOvershoot(overshoot),
		Message: fmt.Sprintf("job %s ran %.1fs, %.0f%% over the %.1fs limit",
			job.Name, rec.DurationSeconds, overshoot*100, limit),
		Context: map[string]string{
			"workflow_id":      rec.WorkflowID,
			"duration_seconds": fmt.Sprintf("%.1f", rec.DurationSeconds),
			"limit_seconds":    fmt.Sprintf("%.1f", limit),
		},
	}
}

// checkThroughput applies configured throughput thresholds to the most
// recent completed record
func (m *Monitor) checkThroughput(job JobSpec, rec db.ExecutionRecord) *AlertEvent {
	if rec.DurationSeconds <= 0 || rec.Status != db.RecordStatusSuccess {
		return nil
	}

	value := float64(rec.RecordsProcessed) / rec.DurationSeconds

	for _, threshold := range m.config.Thresholds {
		if threshold.Metric != MetricThroughput || !threshold.appliesTo(job.Name) {
			continue
		}
		if !threshold.breached(value) {
			continue
		}

		return &AlertEvent{
			Subject:  job.Name,
			Metric:   MetricThroughput,
			Severity: threshold.severity(),
			Message: fmt.Sprintf("job %s throughput %.2f records/s breached limit %.2f",
				job.Name, value, threshold.Limit),
			Context: map[string]string{
				"workflow_id":       rec.WorkflowID,
				"records_processed": fmt.Sprintf("%d", rec.RecordsProcessed),
				"throughput":        fmt.Sprintf("%.2f", value),
			},
		}
	}

	return nil
}

// checkFailures applies the consecutive-failure thresholds to a job's
// streak. The streak comes from the history counts when supplied;
// otherwise it is derived from the windowed records, which arrive
// newest first so the streak ends at the first success. The last error
// message is always taken from the windowed records, best effort.
func (m *Monitor) checkFailures(job JobSpec, records []db.ExecutionRecord, failures map[string]int) *AlertEvent {
	windowStreak := 0
	var lastErr string
	for _, rec := range records {
		if rec.Status == db.RecordStatusSuccess {
			break
		}
		if rec.Status == db.RecordStatusFailed {
			windowStreak++
			if lastErr == "" && rec.Error != nil {
				lastErr = *rec.Error
			}
		}
	}

	streak := windowStreak
	if failures != nil {
		streak = failures[job.Name]
	}

	if streak == 0 {
		return nil
	}

	matched := false
	for _, threshold := range m.config.Thresholds {
		if threshold.Metric != MetricConsecutiveFailures || !threshold.appliesTo(job.Name) {
			continue
		}
		matched = true
		if threshold.breached(float64(streak)) {
			return failureEvent(job.Name, streak, lastErr, threshold.severity())
		}
	}

	if matched {
		// Thresholds configured for this job, none breached
		return nil
	}

	// No configured threshold: any failure streak is reportable, and a
	// persistent one is urgent
	severity := SeverityMedium
	if streak >= 3 {
		severity = SeverityHigh
	}
	return failureEvent(job.Name, streak, lastErr, severity)
}

func failureEvent(jobName string, streak int, lastErr string, severity Severity) *AlertEvent {
	context := map[string]string{
		"consecutive_failures": fmt.Sprintf("%d", streak),
	}
	if lastErr != "" {
		context["last_error"] = lastErr
	}

	return &AlertEvent{
		Subject:  jobName,
		Metric:   MetricConsecutiveFailures,
		Severity: severity,
		Message:  fmt.Sprintf("job %s has failed %d consecutive time(s)", jobName, streak),
		Context:  context,
	}
}

// ClassifyOvershoot maps a fractional duration overshoot to a severity.
// Anything past the limit is at least medium; more than 25% past is high.
func ClassifyOvershoot(overshoot float64) Severity {
	if overshoot > 0.25 {
		return SeverityHigh
	}
	return SeverityMedium
}

// StaleLockEvents builds one event per stale lock found by the process
// manager. Staleness here is independent of the acquisition-time check;
// it exists so an abandoned lock is noticed even when nothing tries to
// acquire the job.
func StaleLockEvents(stale []lock.Lock) []AlertEvent {
	events := make([]AlertEvent, 0, len(stale))
	for _, lk := range stale {
		events = append(events, AlertEvent{
			Subject:  lk.JobName,
			Metric:   MetricStaleLock,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("lock for job %s is held by dead or expired process %d since %s",
				lk.JobName, lk.OwnerPID, lk.AcquiredAt.Format(time.RFC3339)),
			Context: map[string]string{
				"owner_pid":   fmt.Sprintf("%d", lk.OwnerPID),
				"acquired_at": lk.AcquiredAt.Format(time.RFC3339),
				"path":        lk.Path,
			},
		})
	}
	return events
}
