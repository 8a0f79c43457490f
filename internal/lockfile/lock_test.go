package lockfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbd", "lock")

	lock, err := Acquire(path, 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Lock file carries holder info.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("lock file is not valid JSON: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want %d", info.PID, os.Getpid())
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed after Unlock")
	}
}

func TestAcquireBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := Acquire(path, time.Hour)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer lock.Unlock()

	// Same-process reacquisition via a second fd: flock on the same file
	// by the same process succeeds on some platforms, so test staleness
	// logic directly instead.
	live := &Info{PID: os.Getpid(), AcquiredAt: time.Now()}
	if isStale(live, time.Hour) {
		t.Error("a live, recent holder must not be stale")
	}
}

func TestStaleDetection(t *testing.T) {
	dead := &Info{PID: 999999999, AcquiredAt: time.Now()}
	if !isStale(dead, time.Hour) {
		t.Error("a dead holder must be stale")
	}

	ancient := &Info{PID: os.Getpid(), AcquiredAt: time.Now().Add(-2 * time.Hour)}
	if !isStale(ancient, time.Hour) {
		t.Error("a holder past the timeout must be stale")
	}
}

func TestUnlockNil(t *testing.T) {
	var lock *Lock
	if err := lock.Unlock(); err != nil {
		t.Errorf("Unlock on nil lock should be a no-op, got %v", err)
	}
}
