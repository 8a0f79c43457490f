// Package lockfile provides an advisory file lock used to serialize
// worktree mutation across same-machine tbd invocations.
//
// The lock is an flock on a lock file that also carries holder info
// (PID, start time) so a crashed holder can be detected and the lock
// reclaimed after a stale timeout.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockBusy is returned when another live process holds the lock.
var ErrLockBusy = errors.New("lock already held by another process")

// DefaultStaleTimeout is how old a lock from a dead process may be
// before it is reclaimed.
const DefaultStaleTimeout = 10 * time.Minute

// Info describes the current lock holder.
type Info struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held advisory lock. Release it with Unlock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the advisory lock at path, creating parent directories
// as needed. If the lock is held by a live process it returns
// ErrLockBusy. A lock held by a dead process, or older than
// staleTimeout, is reclaimed.
func Acquire(path string, staleTimeout time.Duration) (*Lock, error) {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusiveNonBlock(f); err != nil {
		// Lock is held. Decide whether the holder is stale.
		info, readErr := readInfo(path)
		if readErr == nil && isStale(info, staleTimeout) {
			// Holder is dead or ancient; wait for the flock to free up.
			// A dead holder's flock is already released by the kernel,
			// so a short blocking retry succeeds immediately.
			if err := flockExclusiveNonBlock(f); err != nil {
				f.Close()
				return nil, ErrLockBusy
			}
		} else {
			f.Close()
			return nil, ErrLockBusy
		}
	}

	info := Info{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(info)
	if err != nil {
		flockUnlock(f)
		f.Close()
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(data, 0)
		_ = f.Sync()
	}

	return &Lock{path: path, file: f}, nil
}

// Unlock releases the lock and removes the lock file.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	if err != nil {
		return err
	}
	return closeErr
}

// readInfo reads holder info from the lock file.
func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- lock path is internal
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &info, nil
}

// isStale reports whether the lock holder is dead or past the timeout.
func isStale(info *Info, staleTimeout time.Duration) bool {
	if info.PID > 0 && !isProcessRunning(info.PID) {
		return true
	}
	return !info.AcquiredAt.IsZero() && time.Since(info.AcquiredAt) > staleTimeout
}
