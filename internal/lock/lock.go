package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds lock directory settings
type Config struct {
	Dir    string        `toml:"dir"`
	MaxAge time.Duration `toml:"max_age"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Dir:    "/var/run/marketsync",
		MaxAge: 2 * time.Hour,
	}
}

// Standard errors
var (
	ErrAlreadyLocked = errors.New("lock: already held")
	ErrCorruptLock   = errors.New("lock: unreadable lock file")
)

// A lock file that does not parse is reclaimed only once it is older
// than this: a concurrent creator's file is briefly empty between the
// exclusive create and the content write, and must not be mistaken for
// an abandoned one.
const unreadableReclaimAge = 5 * time.Second

// Age at which a reclaim guard file left behind by a crashed reclaimer
// is swept aside. A live reclaim holds its guard for far less.
const reclaimGuardAge = 30 * time.Second

// Lock represents a held process lock for a single job name.
// It exists on disk only while a job instance runs.
type Lock struct {
	JobName    string
	OwnerPID   int
	AcquiredAt time.Time
	Path       string
}

// Locker acquires and releases file-based process locks.
// One lock file per job name lives in the configured directory; presence
// means held, absence means free.
type Locker struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger

	// Overridable in tests to simulate dead owners
	pidAlive func(pid int) bool
}

// NewLocker creates a locker rooted at the configured directory.
// The directory must exist and be writable; an unusable lock directory is
// a configuration failure, detected here rather than mid-run.
func NewLocker(config Config, logger *slog.Logger) (*Locker, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("lock: dir must be specified")
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: cannot create lock directory %s: %w", config.Dir, err)
	}

	// Probe writability up front
	probe := filepath.Join(config.Dir, ".probe")
	f, err := os.OpenFile(probe, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: lock directory %s is not writable: %w", config.Dir, err)
	}
	f.Close()
	os.Remove(probe)

	return &Locker{
		dir:      config.Dir,
		maxAge:   config.MaxAge,
		logger:   logger,
		pidAlive: processAlive,
	}, nil
}

// Dir returns the lock directory path
func (l *Locker) Dir() string {
	return l.dir
}

// Acquire attempts to take the lock for jobName. maxAge bounds how old a
// held lock may be before it is considered stale; zero falls back to the
// configured default.
//
// Acquisition is atomic: the lock file is created with O_EXCL, so two
// concurrent callers can never both succeed. If the file already exists
// but its owner is stale, the stale file is reclaimed under an exclusive
// guard so only one contender removes it, and acquisition is retried
// exactly once.
func (l *Locker) Acquire(jobName string, maxAge time.Duration) (*Lock, error) {
	if maxAge <= 0 {
		maxAge = l.maxAge
	}

	path := l.lockPath(jobName)

	lk, err := l.tryCreate(jobName, path)
	if err == nil {
		return lk, nil
	}
	if !errors.Is(err, ErrAlreadyLocked) {
		return nil, err
	}

	// Lock file exists. Check whether the holder is stale before giving up.
	existing, readErr := readLockFile(jobName, path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			// Holder released between our create attempt and the read
			return l.tryCreate(jobName, path)
		}
		// A lock file we cannot parse is treated as stale once it is old
		// enough: leaving it in place would block the job name forever,
		// but a young one may be a concurrent creator's half-written file.
		if !olderThan(path, unreadableReclaimAge) {
			return nil, ErrAlreadyLocked
		}
		l.logger.Warn("reclaiming unreadable lock file", "job", jobName, "path", path, "error", readErr)
		if err := l.reclaim(path, func() bool {
			if _, err := readLockFile(jobName, path); err == nil {
				// Someone replaced it with a valid lock
				return false
			}
			return olderThan(path, unreadableReclaimAge)
		}); err != nil {
			return nil, err
		}
		return l.tryCreate(jobName, path)
	}

	if !l.staleWithin(existing, maxAge) {
		return nil, ErrAlreadyLocked
	}

	l.logger.Info("reclaiming stale lock",
		"job", jobName,
		"owner_pid", existing.OwnerPID,
		"acquired_at", existing.AcquiredAt)

	if err := l.reclaim(path, func() bool {
		current, err := readLockFile(jobName, path)
		return err == nil &&
			current.OwnerPID == existing.OwnerPID &&
			current.AcquiredAt.Equal(existing.AcquiredAt)
	}); err != nil {
		return nil, err
	}

	// Retry once; a loss here means someone else won the race, which is
	// ordinary contention
	return l.tryCreate(jobName, path)
}

// reclaim removes the lock file at path on behalf of exactly one
// contender. Reclaimers serialize through an exclusive guard file, and
// the lock file is re-checked under the guard, so a fresh lock
// recreated by an earlier winner is never destroyed. verify reports
// whether the re-read state still matches what the caller judged
// stale; when it no longer does, the reclaim is abandoned as ordinary
// contention.
func (l *Locker) reclaim(path string, verify func() bool) error {
	guard := path + ".reclaim"

	f, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("lock: failed to guard reclaim of %s: %w", path, err)
		}
		// A guard abandoned by a crashed reclaimer must not block the
		// job name forever
		if olderThan(guard, reclaimGuardAge) {
			os.Remove(guard)
		}
		return ErrAlreadyLocked
	}
	f.Close()
	defer os.Remove(guard)

	if !verify() {
		return ErrAlreadyLocked
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: failed to remove stale lock %s: %w", path, err)
	}
	return nil
}

// olderThan reports whether the file's mtime is further in the past
// than age. A file that cannot be stat'ed is not considered old.
func olderThan(path string, age time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > age
}

// Release removes the lock file if it is still owned by lk.
// It is idempotent: releasing an already-released or foreign lock is a
// no-op, never an error, so cleanup in failure paths is always safe.
func (l *Locker) Release(lk *Lock) error {
	if lk == nil {
		return nil
	}

	existing, err := readLockFile(lk.JobName, lk.Path)
	if err != nil {
		// Already gone, or unreadable; either way there is nothing of ours
		// left to release
		return nil
	}

	if existing.OwnerPID != lk.OwnerPID {
		// Someone else holds the lock now; do not touch it
		return nil
	}

	if err := os.Remove(lk.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: failed to release %s: %w", lk.Path, err)
	}

	return nil
}

// IsStale reports whether lk is held by a dead process or has outlived
// the configured maximum age.
func (l *Locker) IsStale(lk *Lock) bool {
	return l.staleWithin(lk, l.maxAge)
}

func (l *Locker) staleWithin(lk *Lock, maxAge time.Duration) bool {
	if !l.pidAlive(lk.OwnerPID) {
		return true
	}
	if maxAge > 0 && time.Since(lk.AcquiredAt) > maxAge {
		return true
	}
	return false
}

// tryCreate performs a single create-exclusive attempt
func (l *Locker) tryCreate(jobName, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("lock: failed to create %s: %w", path, err)
	}

	lk := &Lock{
		JobName:    jobName,
		OwnerPID:   os.Getpid(),
		AcquiredAt: time.Now().UTC().Truncate(time.Second),
		Path:       path,
	}

	_, werr := fmt.Fprintf(f, "%d\n%s\n", lk.OwnerPID, lk.AcquiredAt.Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr == nil {
			werr = cerr
		}
		return nil, fmt.Errorf("lock: failed to write %s: %w", path, werr)
	}

	return lk, nil
}

func (l *Locker) lockPath(jobName string) string {
	return filepath.Join(l.dir, sanitizeJobName(jobName)+".lock")
}

// sanitizeJobName maps a job name to a safe file name component
func sanitizeJobName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// readLockFile parses a lock file into a Lock.
// Format: first line owner pid, second line RFC3339 acquisition time.
func readLockFile(jobName, path string) (*Lock, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrCorruptLock, path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pid in %s: %v", ErrCorruptLock, path, err)
	}

	acquiredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp in %s: %v", ErrCorruptLock, path, err)
	}

	return &Lock{
		JobName:    jobName,
		OwnerPID:   pid,
		AcquiredAt: acquiredAt,
		Path:       path,
	}, nil
}
