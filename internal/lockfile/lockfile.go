// Package lockfile implements the classical HDB (Honey-Danber) ASCII PID
// lock file scheme used to serialize access to a serial device (§4.7,
// original_source/unix.c's HDBLockFile/HDBUnlockFile).
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// headerLen is the fixed width of the HDB ASCII header: a 10-column
// space-padded, right-aligned decimal pid plus a trailing newline.
const headerLen = 11

// ErrLocked is returned when the lock file is held by another live process.
var ErrLocked = errors.New("lockfile: held by another process")

// Lock represents a held HDB lock file. The zero value is not usable;
// obtain one via Acquire.
type Lock struct {
	path string
	log  *zap.SugaredLogger
}

func logf(log *zap.SugaredLogger, format string, args ...any) {
	if log != nil {
		log.Debugf(format, args...)
	}
}

func infof(log *zap.SugaredLogger, format string, args ...any) {
	if log != nil {
		log.Infof(format, args...)
	}
}

func warnf(log *zap.SugaredLogger, format string, args ...any) {
	if log != nil {
		log.Warnf(format, args...)
	}
}

// Acquire creates path as an HDB lock file owned by the calling process.
// If the file already exists, it reads the owning pid: a lock already held
// by us succeeds, a lock held by a dead process is removed and retried
// once, and a lock held by a live foreign process returns ErrLocked.
func Acquire(path string, log *zap.SugaredLogger) (*Lock, error) {
	ourPid := os.Getpid()
	staleRemoved := false
	for {
		fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if err == nil {
			if err := writeHeader(fd, ourPid); err != nil {
				fd.Close()
				os.Remove(path)
				return nil, fmt.Errorf("lockfile: write header: %w", err)
			}
			fd.Close()
			return &Lock{path: path, log: log}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lockfile: create %s: %w", path, err)
		}

		pid, readErr := readOwnerPid(path)
		if readErr != nil {
			warnf(log, "can't read pid from lock file %s: %v", path, readErr)
			return nil, fmt.Errorf("lockfile: read %s: %w", path, readErr)
		}

		if pid == ourPid {
			logf(log, "read our own pid from lock %s", path)
			return &Lock{path: path, log: log}, nil
		}

		if pid == 0 || !processAlive(pid) {
			if staleRemoved {
				return nil, fmt.Errorf("lockfile: %s is stale again after removal (pid %d)", path, pid)
			}
			if err := os.Remove(path); err != nil {
				warnf(log, "couldn't remove stale lock %s (pid %d): %v", path, pid, err)
				return nil, fmt.Errorf("lockfile: remove stale %s: %w", path, err)
			}
			infof(log, "removed stale lock %s (pid %d)", path, pid)
			staleRemoved = true
			continue
		}

		infof(log, "lock %s is owned by pid %d", path, pid)
		return nil, ErrLocked
	}
}

// Release removes the lock file, but only if it is still owned by us —
// mirroring HDBUnlockFile, which re-runs the acquire logic before
// unlinking so a lock that has meanwhile been stolen or replaced is left
// alone.
func (l *Lock) Release() error {
	held, err := Acquire(l.path, l.log)
	if err != nil {
		return err
	}
	_ = held
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("lockfile: remove %s: %w", l.path, err)
	}
	infof(l.log, "unlocked lock file %s", l.path)
	return nil
}

func writeHeader(fd *os.File, pid int) error {
	header := fmt.Sprintf("%10d\n", pid)
	if len(header) != headerLen {
		return fmt.Errorf("lockfile: pid %d does not fit the HDB header width", pid)
	}
	n, err := fd.WriteString(header)
	if err != nil {
		return err
	}
	if n != headerLen {
		return fmt.Errorf("lockfile: short write (%d of %d bytes)", n, headerLen)
	}
	return nil
}

func readOwnerPid(path string) (int, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	buf := make([]byte, headerLen)
	n, err := fd.Read(buf)
	if n <= 0 {
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("empty lock file")
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if convErr != nil {
		return 0, fmt.Errorf("malformed HDB header: %w", convErr)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, via the classical
// kill(pid, 0) liveness probe (no signal is actually delivered).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}
