package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/logging"
)

// LockFileName is the process lock inside the state directory.
const LockFileName = "dysche.lock"

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is an acquired process lock. Administrative operations hold it so
// that separate invocations do not interleave on the same instances.
type Lock struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Command    string    `json:"command"`
	AcquiredAt time.Time `json:"acquired_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes the lock in stateDir. A lock left by a dead process is
// removed first. logger may be nil.
func AcquireLock(stateDir, command string, logger *logging.Logger) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)

	if existing, err := ReadLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d (%s) on %s", ErrLocked, existing.PID, existing.Command, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: remove stale lock: %w", errors.ErrIOFailure, err)
		}
		if logger != nil {
			logger.Warn("stale lock cleaned", "old_pid", existing.PID, "command", existing.Command)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Command:    command,
		AcquiredAt: time.Now(),
		path:       path,
		logger:     logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state directory: %w", errors.ErrIOFailure, err)
	}
	// O_EXCL loses the race cleanly against a concurrent acquirer.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d (%s) on %s", ErrLocked, existing.PID, existing.Command, existing.Hostname)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("%w: create lock file: %w", errors.ErrIOFailure, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write lock file: %w", errors.ErrIOFailure, err)
	}
	if logger != nil {
		logger.Debug("state lock acquired", "pid", lock.PID, "command", command)
	}
	return lock, nil
}

// AcquireLockWait retries AcquireLock every poll until it succeeds, fails
// for a reason other than ErrLocked, or ctx ends.
func AcquireLockWait(ctx context.Context, stateDir, command string, poll time.Duration, logger *logging.Logger) (*Lock, error) {
	for {
		lock, err := AcquireLock(stateDir, command, logger)
		if err == nil || !errors.Is(err, ErrLocked) {
			return lock, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (%w)", err, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// Release removes the lock file if this process still owns it.
// Safe to call multiple times and on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := ReadLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("state lock released", "pid", l.PID)
	}
	l.path = ""
	return nil
}

// ReadLock reads a lock file.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// IsLocked reports whether stateDir is held by a live process.
func IsLocked(stateDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(stateDir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive sends signal 0, which checks existence without delivering
// anything. EPERM means the process exists under another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
