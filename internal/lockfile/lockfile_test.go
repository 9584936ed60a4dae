package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireCreatesHDBHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")
	lock, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != headerLen {
		t.Fatalf("header length = %d, want %d", len(data), headerLen)
	}
	pid, err := strconv.Atoi(string(data[:10]))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("header = %q, want pid %d", data, os.Getpid())
	}
}

func TestAcquireIdempotentForSameProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")
	lock1, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer lock1.Release()

	lock2, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("second Acquire by same pid should succeed: %v", err)
	}
	_ = lock2
}

func TestAcquireFailsOnLiveForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")
	if err := os.WriteFile(path, []byte("         1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// pid 1 (init) is always alive in any reachable namespace.
	_, err := Acquire(path, nil)
	if err != ErrLocked {
		t.Fatalf("Acquire = %v, want ErrLocked", err)
	}
}

func TestAcquireRemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")
	// A pid extremely unlikely to be alive.
	if err := os.WriteFile(path, []byte(" 999999999\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	lock, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer lock.Release()

	data, _ := os.ReadFile(path)
	pid, _ := strconv.Atoi(string(data[:10]))
	if pid != os.Getpid() {
		t.Fatalf("lock file not rewritten with our pid: %q", data)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LCK..ttyS0")
	lock, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after Release")
	}
}
