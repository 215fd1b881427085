package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager inspects the lock directory as a whole.
// It cross-references every held lock against live OS process ids, so
// monitoring can report abandoned locks independently of the staleness
// check Locker performs at acquisition time.
type Manager struct {
	locker *Locker
	logger *slog.Logger
}

// NewManager creates a process manager over the same directory as locker
func NewManager(locker *Locker, logger *slog.Logger) *Manager {
	return &Manager{
		locker: locker,
		logger: logger,
	}
}

// List returns every currently held lock in the directory.
// Unreadable lock files are skipped with a warning; they are surfaced by
// ListStale instead.
func (m *Manager) List() ([]Lock, error) {
	paths, err := filepath.Glob(filepath.Join(m.locker.dir, "*.lock"))
	if err != nil {
		return nil, fmt.Errorf("lock: failed to scan directory %s: %w", m.locker.dir, err)
	}

	locks := make([]Lock, 0, len(paths))
	for _, path := range paths {
		jobName := strings.TrimSuffix(filepath.Base(path), ".lock")
		lk, err := readLockFile(jobName, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // released while scanning
			}
			m.logger.Warn("skipping unreadable lock file", "path", path, "error", err)
			continue
		}
		locks = append(locks, *lk)
	}

	return locks, nil
}

// ListStale returns every held lock whose owner process is no longer
// alive or whose age exceeds the configured maximum.
func (m *Manager) ListStale() ([]Lock, error) {
	locks, err := m.List()
	if err != nil {
		return nil, err
	}

	stale := make([]Lock, 0)
	for _, lk := range locks {
		if m.locker.IsStale(&lk) {
			stale = append(stale, lk)
		}
	}

	return stale, nil
}

// RemoveStale deletes every stale lock file and returns the locks that
// were reclaimed. A lock released between detection and removal is not
// an error.
func (m *Manager) RemoveStale() ([]Lock, error) {
	stale, err := m.ListStale()
	if err != nil {
		return nil, err
	}

	removed := make([]Lock, 0, len(stale))
	for _, lk := range stale {
		if err := os.Remove(lk.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("lock: failed to remove stale lock %s: %w", lk.Path, err)
		}

		m.logger.Info("removed stale lock",
			"job", lk.JobName,
			"owner_pid", lk.OwnerPID,
			"acquired_at", lk.AcquiredAt)
		removed = append(removed, lk)
	}

	return removed, nil
}
