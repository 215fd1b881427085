package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

func testLocker(t *testing.T) *Locker {
	t.Helper()
	locker, err := NewLocker(Config{Dir: t.TempDir(), MaxAge: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("failed to create locker: %v", err)
	}
	return locker
}

// =============================================================================
// Acquisition Tests
// =============================================================================

func TestAcquire_CreatesLockFile(t *testing.T) {
	locker := testLocker(t)

	lk, err := locker.Acquire("catalog_sync", 0)
	if err != nil {
		t.Fatalf("expected acquisition to succeed, got %v", err)
	}

	if lk.OwnerPID != os.Getpid() {
		t.Errorf("expected owner pid %d, got %d", os.Getpid(), lk.OwnerPID)
	}

	if _, err := os.Stat(lk.Path); err != nil {
		t.Errorf("expected lock file to exist: %v", err)
	}

	// Content must round-trip
	parsed, err := readLockFile("catalog_sync", lk.Path)
	if err != nil {
		t.Fatalf("failed to read back lock file: %v", err)
	}
	if parsed.OwnerPID != lk.OwnerPID {
		t.Errorf("expected pid %d in file, got %d", lk.OwnerPID, parsed.OwnerPID)
	}
	if !parsed.AcquiredAt.Equal(lk.AcquiredAt) {
		t.Errorf("expected acquired_at %v in file, got %v", lk.AcquiredAt, parsed.AcquiredAt)
	}
}

func TestAcquire_SecondCallerBlocked(t *testing.T) {
	locker := testLocker(t)

	if _, err := locker.Acquire("catalog_sync", 0); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	_, err := locker.Acquire("catalog_sync", 0)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestAcquire_DifferentJobsIndependent(t *testing.T) {
	locker := testLocker(t)

	if _, err := locker.Acquire("catalog_sync", 0); err != nil {
		t.Fatalf("catalog acquire failed: %v", err)
	}
	if _, err := locker.Acquire("inventory_sync", 0); err != nil {
		t.Fatalf("inventory acquire failed: %v", err)
	}
}

// TestAcquire_ConcurrentCallers verifies that for a single job name,
// simultaneous acquire calls produce exactly one success.
func TestAcquire_ConcurrentCallers(t *testing.T) {
	locker := testLocker(t)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := locker.Acquire("catalog_sync", 0)
			results <- err
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	successes := 0
	contentions := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyLocked):
			contentions++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("expected exactly 1 successful acquisition, got %d", successes)
	}
	if contentions != callers-1 {
		t.Errorf("expected %d contentions, got %d", callers-1, contentions)
	}
}

// =============================================================================
// Staleness Tests
// =============================================================================

// writeLockFile plants a lock file as if another process had created it
func writeLockFile(t *testing.T, locker *Locker, jobName string, pid int, acquiredAt time.Time) string {
	t.Helper()
	path := locker.lockPath(jobName)
	content := fmt.Sprintf("%d\n%s\n", pid, acquiredAt.UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}
	return path
}

// TestAcquire_ReclaimsDeadOwner verifies that a lock whose owner pid is not
// alive is always reclaimable by a subsequent acquire.
func TestAcquire_ReclaimsDeadOwner(t *testing.T) {
	locker := testLocker(t)
	locker.pidAlive = func(pid int) bool { return false }

	writeLockFile(t, locker, "catalog_sync", 999999, time.Now())

	lk, err := locker.Acquire("catalog_sync", 0)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	if lk.OwnerPID != os.Getpid() {
		t.Errorf("expected lock to be re-owned by this process")
	}
}

// TestAcquire_ReclaimsExpiredLock verifies age-based staleness even when the
// owner process is still alive.
func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	locker := testLocker(t)

	// Owner alive, but acquired far beyond the max age
	writeLockFile(t, locker, "catalog_sync", os.Getpid(), time.Now().Add(-3*time.Hour))

	if _, err := locker.Acquire("catalog_sync", time.Hour); err != nil {
		t.Fatalf("expected expired lock to be reclaimed, got %v", err)
	}
}

// TestAcquire_ConcurrentStaleReclaim verifies that when several callers
// find the same stale lock, reclamation lets exactly one of them
// through: the losers must surface ordinary contention, never a second
// live lock for the job.
func TestAcquire_ConcurrentStaleReclaim(t *testing.T) {
	locker := testLocker(t)
	locker.pidAlive = func(pid int) bool { return pid == os.Getpid() }

	const callers = 8
	for round := 0; round < 25; round++ {
		writeLockFile(t, locker, "catalog_sync", 999999, time.Now())

		type attempt struct {
			lk  *Lock
			err error
		}

		start := make(chan struct{})
		results := make(chan attempt, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				lk, err := locker.Acquire("catalog_sync", 0)
				results <- attempt{lk: lk, err: err}
			}()
		}

		close(start)
		wg.Wait()
		close(results)

		var winner *Lock
		successes := 0
		for res := range results {
			switch {
			case res.err == nil:
				successes++
				winner = res.lk
			case errors.Is(res.err, ErrAlreadyLocked):
			default:
				t.Fatalf("round %d: unexpected error: %v", round, res.err)
			}
		}

		if successes != 1 {
			t.Fatalf("round %d: expected exactly 1 successful acquisition, got %d", round, successes)
		}

		// The file on disk must belong to the winner
		parsed, err := readLockFile("catalog_sync", winner.Path)
		if err != nil {
			t.Fatalf("round %d: winner's lock file unreadable: %v", round, err)
		}
		if parsed.OwnerPID != os.Getpid() {
			t.Fatalf("round %d: lock file owned by pid %d, not this process", round, parsed.OwnerPID)
		}

		if err := locker.Release(winner); err != nil {
			t.Fatalf("round %d: release failed: %v", round, err)
		}
	}
}

func TestAcquire_LiveOwnerNotReclaimed(t *testing.T) {
	locker := testLocker(t)

	writeLockFile(t, locker, "catalog_sync", os.Getpid(), time.Now())

	_, err := locker.Acquire("catalog_sync", time.Hour)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked for live fresh lock, got %v", err)
	}
}

func TestAcquire_CorruptLockFileReclaimed(t *testing.T) {
	locker := testLocker(t)

	path := locker.lockPath("catalog_sync")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("failed to plant corrupt lock file: %v", err)
	}

	// Old enough that it cannot be a concurrent creator's half-written file
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to backdate lock file: %v", err)
	}

	if _, err := locker.Acquire("catalog_sync", 0); err != nil {
		t.Fatalf("expected corrupt lock to be replaced, got %v", err)
	}
}

// TestAcquire_YoungUnreadableFileNotStolen verifies a lock file that does
// not parse yet is left alone while its mtime is recent: a concurrent
// creator's file is momentarily empty between the exclusive create and
// the content write.
func TestAcquire_YoungUnreadableFileNotStolen(t *testing.T) {
	locker := testLocker(t)

	path := locker.lockPath("catalog_sync")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to plant empty lock file: %v", err)
	}

	_, err := locker.Acquire("catalog_sync", 0)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked for a just-written unreadable file, got %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected the unreadable file to be left in place: %v", err)
	}
}

func TestIsStale(t *testing.T) {
	locker := testLocker(t)

	fresh := &Lock{JobName: "a", OwnerPID: os.Getpid(), AcquiredAt: time.Now()}
	if locker.IsStale(fresh) {
		t.Error("fresh lock owned by a live process must not be stale")
	}

	old := &Lock{JobName: "a", OwnerPID: os.Getpid(), AcquiredAt: time.Now().Add(-2 * time.Hour)}
	if !locker.IsStale(old) {
		t.Error("lock older than max age must be stale")
	}

	locker.pidAlive = func(pid int) bool { return false }
	dead := &Lock{JobName: "a", OwnerPID: 12345, AcquiredAt: time.Now()}
	if !locker.IsStale(dead) {
		t.Error("lock with dead owner must be stale")
	}
}

// =============================================================================
// Release Tests
// =============================================================================

func TestRelease_RemovesFile(t *testing.T) {
	locker := testLocker(t)

	lk, err := locker.Acquire("catalog_sync", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := locker.Release(lk); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := os.Stat(lk.Path); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed")
	}

	// Lock is free again
	if _, err := locker.Acquire("catalog_sync", 0); err != nil {
		t.Fatalf("expected re-acquisition after release, got %v", err)
	}
}

// TestRelease_Idempotent verifies double release and nil release are no-ops.
func TestRelease_Idempotent(t *testing.T) {
	locker := testLocker(t)

	lk, err := locker.Acquire("catalog_sync", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := locker.Release(lk); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := locker.Release(lk); err != nil {
		t.Fatalf("second release must be a no-op, got %v", err)
	}
	if err := locker.Release(nil); err != nil {
		t.Fatalf("nil release must be a no-op, got %v", err)
	}
}

// TestRelease_ForeignLockUntouched verifies releasing a lock that has since
// been taken over by another owner does not remove it.
func TestRelease_ForeignLockUntouched(t *testing.T) {
	locker := testLocker(t)

	stale := &Lock{
		JobName:  "catalog_sync",
		OwnerPID: 424242,
		Path:     locker.lockPath("catalog_sync"),
	}

	// Current holder is this process
	lk, err := locker.Acquire("catalog_sync", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if err := locker.Release(stale); err != nil {
		t.Fatalf("foreign release must be a no-op, got %v", err)
	}

	if _, err := os.Stat(lk.Path); err != nil {
		t.Error("foreign release must not remove the current holder's lock")
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_ListStale(t *testing.T) {
	locker := testLocker(t)
	manager := NewManager(locker, testLogger())

	// One live lock, one dead-owner lock, one expired lock
	if _, err := locker.Acquire("live_job", 0); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	writeLockFile(t, locker, "dead_job", 999999, time.Now())
	writeLockFile(t, locker, "expired_job", os.Getpid(), time.Now().Add(-3*time.Hour))

	alive := map[int]bool{os.Getpid(): true}
	locker.pidAlive = func(pid int) bool { return alive[pid] }

	stale, err := manager.ListStale()
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}

	names := map[string]bool{}
	for _, lk := range stale {
		names[lk.JobName] = true
	}

	if len(stale) != 2 {
		t.Fatalf("expected 2 stale locks, got %d: %v", len(stale), names)
	}
	if !names["dead_job"] || !names["expired_job"] {
		t.Errorf("expected dead_job and expired_job to be stale, got %v", names)
	}
	if names["live_job"] {
		t.Error("live lock must not be reported stale")
	}
}

func TestManager_RemoveStale(t *testing.T) {
	locker := testLocker(t)
	manager := NewManager(locker, testLogger())

	writeLockFile(t, locker, "dead_job", 999999, time.Now())
	locker.pidAlive = func(pid int) bool { return false }

	removed, err := manager.RemoveStale()
	if err != nil {
		t.Fatalf("RemoveStale failed: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed lock, got %d", len(removed))
	}

	entries, err := filepath.Glob(filepath.Join(locker.Dir(), "*.lock"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty lock directory, found %v", entries)
	}
}

func TestManager_ListEmptyDir(t *testing.T) {
	locker := testLocker(t)
	manager := NewManager(locker, testLogger())

	locks, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("expected no locks, got %d", len(locks))
	}
}
