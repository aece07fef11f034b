// Package lockfile prevents concurrent backup runs via an OS advisory lock.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning indicates another process holds the run lock.
var ErrAlreadyRunning = errors.New("another backup run is in progress")

const lockFilePerm = 0o640

// Lock is an exclusive, process-lifetime hold on a well-known path. The
// kernel drops the flock when the holder dies, so a stale file left behind
// by a crashed run never blocks the next one.
type Lock struct {
	file *os.File
	path string
}

// Acquire attempts a non-blocking exclusive lock on path. It returns
// ErrAlreadyRunning when the lock is held by another process.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		holder, _ := os.ReadFile(path) //nolint:gosec // diagnostic read of our own lock file
		if len(holder) > 0 {
			return nil, fmt.Errorf("%w (held by PID %s)", ErrAlreadyRunning, string(holder))
		}
		return nil, ErrAlreadyRunning
	}

	// Record our PID for operators inspecting a long run.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = fmt.Fprintf(file, "%d", os.Getpid())
	_ = file.Sync()

	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and removes the lock file. It is safe to call more
// than once; every exit path of a run must reach it.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	// Best-effort: the flock is gone either way.
	_ = os.Remove(l.path)

	if err != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return closeErr
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}
