package server

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// InstanceLock enforces "exactly one daemon per pid file" by holding an
// exclusive advisory lock on pidPath for the process lifetime — the
// pack's flock dependency applied to the one place original_source's
// daemon_pid()/is_daemon_running() left as a known race: two `granary`
// invocations auto-starting a daemon at the same moment. A plain
// PID-file-exists check can't distinguish a live daemon from a stale
// file left by a crash; flock.TryLock can.
type InstanceLock struct {
	fl *flock.Flock
}

// Acquire tries to take the daemon's instance lock at pidPath, writing
// this process's pid into the file on success. It returns ok=false
// (with no error) if another process already holds the lock.
func Acquire(pidPath string) (lock *InstanceLock, ok bool, err error) {
	fl := flock.New(pidPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("server: lock %s: %w", pidPath, err)
	}
	if !locked {
		return nil, false, nil
	}

	// Written through a separate file handle: flock's lock is tied to its
	// own open file description, not this path's inode, so a second
	// open/write/close here cannot drop the lock out from under it.
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(pidPath, []byte(pid), 0o600); err != nil {
		_ = fl.Unlock()
		return nil, false, fmt.Errorf("server: write %s: %w", pidPath, err)
	}

	return &InstanceLock{fl: fl}, true, nil
}

// Release unlocks and removes the pid file.
func (l *InstanceLock) Release() {
	path := l.fl.Path()
	_ = l.fl.Unlock()
	_ = os.Remove(path)
}
