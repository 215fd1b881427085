package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StageItems appends one page of fetched marketplace items to the staging
// table in a single transaction. Downstream transformation reads from the
// staging table on its own cadence.
func (db *DB) StageItems(ctx context.Context, kind string, items []json.RawMessage) error {
	if len(items) == 0 {
		return nil
	}

	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO staged_items (kind, payload, fetched_at)
			VALUES (?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		fetchedAt := time.Now().UTC()
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, kind, []byte(item), fetchedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stage %s items: %w", kind, err)
	}
	return nil
}

// CountStagedItems returns the number of staged items of a kind
func (db *DB) CountStagedItems(ctx context.Context, kind string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM staged_items WHERE kind = ?", kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count staged %s items: %w", kind, err)
	}
	return count, nil
}

// PurgeStagedItems deletes staged items of a kind fetched before the cutoff
// and returns how many were removed
func (db *DB) PurgeStagedItems(ctx context.Context, kind string, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM staged_items WHERE kind = ? AND fetched_at < ?", kind, before)
	if err != nil {
		return 0, fmt.Errorf("purge staged %s items: %w", kind, err)
	}
	return result.RowsAffected()
}

// StagingSink adapts the staging table to the syncer's sink interface
type StagingSink struct {
	db *DB
}

// Staging returns a sink writing into the staged_items table
func (db *DB) Staging() *StagingSink {
	return &StagingSink{db: db}
}

// Write persists one fetched page
func (s *StagingSink) Write(ctx context.Context, kind string, items []json.RawMessage) error {
	return s.db.StageItems(ctx, kind, items)
}
