//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func findProcess(pid int) (*os.Process, error) {
	return os.FindProcess(pid)
}

// setProcessGroup puts the child in its own process group via
// CREATE_NEW_PROCESS_GROUP, the closest Windows equivalent to setsid —
// it lets killProcessGroup target the whole group rather than just the
// immediate child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

const createNewProcessGroup = 0x00000200

// killProcessGroup terminates pid. Windows has no direct SIGKILL-to-group
// equivalent reachable without extra syscalls for process enumeration; a
// direct TerminateProcess on the leader is the pragmatic approximation
// the daemon relies on — descendants spawned by simple runner commands
// (the expected case) exit when their parent's handles close.
func killProcessGroup(pid int) error {
	proc, err := findProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

// IsAlive reports whether pid denotes a live process. os.FindProcess on
// Windows always succeeds regardless of whether the pid exists, and
// Process.Signal supports only os.Kill (which would terminate a live
// process just to probe it) — there is no safe signal-0 equivalent here.
// Conservatively reporting "not alive" on Windows matches the restart
// policy's bias toward Stopped-over-silently-adopted (spec.md §4.4).
func IsAlive(pid int) bool {
	return false
}

// pauseProcessGroup has no Windows equivalent reachable without
// NtSuspendProcess or toolhelp thread enumeration; PauseRun surfaces this
// as an Internal error on this platform rather than silently no-op'ing.
func pauseProcessGroup(pid int) error {
	return errors.New("pause is not supported on this platform")
}

// resumeProcessGroup: see pauseProcessGroup.
func resumeProcessGroup(pid int) error {
	return errors.New("resume is not supported on this platform")
}
