//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes cmd's eventual child a session and process-group
// leader (setsid), so the whole descendant tree can be killed as a unit —
// matching runner.rs's pre_exec setsid() call.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// killProcessGroup sends SIGKILL to the process group led by pid (the
// negative-PID convention for signalling an entire group). The process
// group ID equals pid since the child called setsid() at spawn time.
func killProcessGroup(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if err == unix.ESRCH {
		// Already gone — not a supervisor failure.
		return nil
	}
	return err
}

// IsAlive reports whether pid denotes a live process, via the
// conventional signal-0 liveness probe.
func IsAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// pauseProcessGroup sends SIGSTOP to the process group led by pid.
func pauseProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGSTOP)
}

// resumeProcessGroup sends SIGCONT to the process group led by pid.
func resumeProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGCONT)
}
