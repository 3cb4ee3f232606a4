package lock

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Suffix is appended to a log file path to derive its lock file path.
const Suffix = ".lock"

// FileLock is an exclusive, host-wide advisory lock on a path. The
// kernel enforces exclusivity across every process on the host; the
// lock is released on Release or automatically if the holder dies.
type FileLock struct {
	f    *os.File
	path string
}

// Acquire opens (creating if absent) the lock file at path and blocks
// until an exclusive flock is granted. There is no acquisition timeout:
// waiters queue in kernel-defined order until the current holder
// releases.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &FileLock{f: f, path: path}, nil
}

// Release unlocks and closes the lock file, then removes it. Removal is
// best-effort: another waiter may have already locked (or recreated)
// the file, and its absence is not a signal anyone relies on — the
// flock itself is the authoritative exclusion mechanism.
func (l *FileLock) Release() {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		zap.S().Warnf("unlock %s: %v", l.path, err)
	}
	if err := l.f.Close(); err != nil {
		zap.S().Warnf("close lock file %s: %v", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		zap.S().Debugf("remove lock file %s: %v", l.path, err)
	}
}
