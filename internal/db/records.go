package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Execution record statuses
const (
	RecordStatusPending = "pending"
	RecordStatusRunning = "running"
	RecordStatusSuccess = "success"
	RecordStatusFailed  = "failed"
)

// ExecutionRecord is the durable history entry for one job attempt.
// Records are append-only: once a completed record is written it is never
// mutated, so reporting and monitoring always read a consistent history.
type ExecutionRecord struct {
	ID               int64
	WorkflowID       string
	JobName          string
	Status           string
	StartedAt        time.Time
	DurationSeconds  float64
	RecordsProcessed int64
	Attempts         int
	Error            *string
}

// RecordFilter narrows an execution record query.
// Zero values mean "no constraint" for that field.
type RecordFilter struct {
	JobName string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// AppendExecutionRecord inserts a new execution record
func (db *DB) AppendExecutionRecord(rec *ExecutionRecord) error {
	query := `
		INSERT INTO execution_records (workflow_id, job_name, status, started_at, duration_seconds, records_processed, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(query,
		rec.WorkflowID,
		rec.JobName,
		rec.Status,
		rec.StartedAt,
		rec.DurationSeconds,
		rec.RecordsProcessed,
		rec.Attempts,
		rec.Error,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id

	return nil
}

// GetExecutionRecords retrieves records matching the filter, newest first
func (db *DB) GetExecutionRecords(filter RecordFilter) ([]ExecutionRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.JobName != "" {
		conditions = append(conditions, "job_name = ?")
		args = append(args, filter.JobName)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "started_at < ?")
		args = append(args, filter.Until)
	}

	query := `
		SELECT id, workflow_id, job_name, status, started_at, duration_seconds, records_processed, attempts, error
		FROM execution_records
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.WorkflowID,
			&rec.JobName,
			&rec.Status,
			&rec.StartedAt,
			&rec.DurationSeconds,
			&rec.RecordsProcessed,
			&rec.Attempts,
			&rec.Error,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if records == nil {
		records = []ExecutionRecord{}
	}

	return records, nil
}

// GetRecordsForWorkflow retrieves every record written under one workflow run
func (db *DB) GetRecordsForWorkflow(workflowID string) ([]ExecutionRecord, error) {
	query := `
		SELECT id, workflow_id, job_name, status, started_at, duration_seconds, records_processed, attempts, error
		FROM execution_records
		WHERE workflow_id = ?
		ORDER BY started_at ASC, id ASC
	`

	rows, err := db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.WorkflowID,
			&rec.JobName,
			&rec.Status,
			&rec.StartedAt,
			&rec.DurationSeconds,
			&rec.RecordsProcessed,
			&rec.Attempts,
			&rec.Error,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if records == nil {
		records = []ExecutionRecord{}
	}

	return records, nil
}

// GetLastSuccess retrieves the most recent successful record for a job
func (db *DB) GetLastSuccess(jobName string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}

	query := `
		SELECT id, workflow_id, job_name, status, started_at, duration_seconds, records_processed, attempts, error
		FROM execution_records
		WHERE job_name = ? AND status = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`

	err := db.QueryRow(query, jobName, RecordStatusSuccess).Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.JobName,
		&rec.Status,
		&rec.StartedAt,
		&rec.DurationSeconds,
		&rec.RecordsProcessed,
		&rec.Attempts,
		&rec.Error,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// CountConsecutiveFailures counts failed records for a job since its last
// success. A job that has never succeeded counts all of its failures.
func (db *DB) CountConsecutiveFailures(jobName string) (int, error) {
	last, err := db.GetLastSuccess(jobName)
	if err != nil && !IsNotFound(err) {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM execution_records WHERE job_name = ? AND status = ?`
	args := []interface{}{jobName, RecordStatusFailed}

	if last != nil {
		query += " AND (started_at > ? OR (started_at = ? AND id > ?))"
		args = append(args, last.StartedAt, last.StartedAt, last.ID)
	}

	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// String implements a compact debug representation
func (r *ExecutionRecord) String() string {
	return fmt.Sprintf("%s/%s %s (%.1fs, %d records, %d attempts)",
		r.WorkflowID, r.JobName, r.Status, r.DurationSeconds, r.RecordsProcessed, r.Attempts)
}
