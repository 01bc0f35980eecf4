package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/dysche/internal/errors"
)

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "create", nil)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d", lock.PID)
	}

	if _, err := AcquireLock(dir, "destroy", nil); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireLock = %v, want ErrLocked", err)
	}
	if held, ok := IsLocked(dir); !ok || held.Command != "create" {
		t.Errorf("IsLocked = %+v, %v", held, ok)
	}

	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release = %v", err)
	}
	if _, ok := IsLocked(dir); ok {
		t.Error("still locked after Release")
	}
}

func TestAcquireLock_Stale(t *testing.T) {
	dir := t.TempDir()
	stale, _ := json.Marshal(Lock{PID: 1 << 30, Hostname: "gone", Command: "run"})
	if err := os.WriteFile(filepath.Join(dir, LockFileName), stale, 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireLock(dir, "status", nil)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	defer lock.Release()
	if lock.Command != "status" {
		t.Errorf("Command = %q", lock.Command)
	}
}

func TestAcquireLockWait(t *testing.T) {
	dir := t.TempDir()
	held, err := AcquireLock(dir, "daemon", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := AcquireLockWait(ctx, dir, "run", 5*time.Millisecond, nil); !errors.Is(err, ErrLocked) {
		t.Errorf("AcquireLockWait while held = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = held.Release()
	}()
	lock, err := AcquireLockWait(context.Background(), dir, "run", 2*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("AcquireLockWait after release: %v", err)
	}
	_ = lock.Release()
}

func TestRelease_NotOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)
	other, _ := json.Marshal(Lock{PID: os.Getpid() + 1})
	_ = os.WriteFile(path, other, 0o644)

	l := &Lock{PID: os.Getpid(), path: path}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Release removed a lock owned by another process")
	}
}
