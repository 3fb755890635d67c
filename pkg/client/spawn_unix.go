//go:build !windows

package client

import (
	"os/exec"
	"syscall"
)

// detachDaemon starts the daemon as its own session leader so it outlives
// the CLI process and is not signalled by the shell's job control
// (the Go equivalent of auto_start.rs leaving the child attached to no
// controlling terminal via null stdio plus a background spawn).
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
