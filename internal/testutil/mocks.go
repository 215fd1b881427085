package testutil

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mercatorlabs/marketsync/internal/db"
	"github.com/mercatorlabs/marketsync/internal/lock"
)

// NewTestLogger creates a logger for testing
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

// MockStore provides an in-memory execution record store for testing
type MockStore struct {
	mu         sync.Mutex
	records    []db.ExecutionRecord
	writeError error
}

func NewMockStore() *MockStore {
	return &MockStore{
		records: make([]db.ExecutionRecord, 0),
	}
}

func (m *MockStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

func (m *MockStore) AppendExecutionRecord(rec *db.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeError != nil {
		return m.writeError
	}

	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

func (m *MockStore) Records() []db.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]db.ExecutionRecord, len(m.records))
	copy(result, m.records)
	return result
}

func (m *MockStore) RecordsForJob(jobName string) []db.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []db.ExecutionRecord
	for _, rec := range m.records {
		if rec.JobName == jobName {
			result = append(result, rec)
		}
	}
	return result
}

// MockLockManager provides an in-memory lock manager for testing
type MockLockManager struct {
	mu           sync.Mutex
	held         map[string]*lock.Lock
	acquireError error
	releaseError error
	acquireCalls []string
	releaseCalls []string
}

func NewMockLockManager() *MockLockManager {
	return &MockLockManager{
		held: make(map[string]*lock.Lock),
	}
}

func (m *MockLockManager) SetAcquireError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireError = err
}

func (m *MockLockManager) SetReleaseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseError = err
}

// Hold marks a job as locked by another process
func (m *MockLockManager) Hold(jobName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[jobName] = &lock.Lock{JobName: jobName, OwnerPID: -1, AcquiredAt: time.Now()}
}

func (m *MockLockManager) Acquire(jobName string, maxAge time.Duration) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acquireCalls = append(m.acquireCalls, jobName)

	if m.acquireError != nil {
		return nil, m.acquireError
	}

	if _, ok := m.held[jobName]; ok {
		return nil, lock.ErrAlreadyLocked
	}

	lk := &lock.Lock{
		JobName:    jobName,
		OwnerPID:   os.Getpid(),
		AcquiredAt: time.Now(),
	}
	m.held[jobName] = lk
	return lk, nil
}

func (m *MockLockManager) Release(lk *lock.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lk == nil {
		return nil
	}

	m.releaseCalls = append(m.releaseCalls, lk.JobName)

	if m.releaseError != nil {
		return m.releaseError
	}

	if current, ok := m.held[lk.JobName]; ok && current == lk {
		delete(m.held, lk.JobName)
	}
	return nil
}

func (m *MockLockManager) AcquireCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.acquireCalls))
	copy(result, m.acquireCalls)
	return result
}

func (m *MockLockManager) ReleaseCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.releaseCalls))
	copy(result, m.releaseCalls)
	return result
}

// HeldJobs returns the job names currently holding a lock
func (m *MockLockManager) HeldJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []string
	for name := range m.held {
		result = append(result, name)
	}
	return result
}
