//go:build windows

package client

import (
	"os/exec"
	"syscall"
)

const (
	detachedProcess  = 0x00000008
	createNoWindow   = 0x08000000
)

// detachDaemon mirrors auto_start.rs's Windows spawn_daemon: DETACHED_PROCESS
// plus CREATE_NO_WINDOW so the daemon has no console and outlives the CLI.
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: detachedProcess | createNoWindow}
}
