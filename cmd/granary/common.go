package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/granary/pkg/client"
)

// connectClient auto-spawns the daemon if needed and returns a ready
// client, per original_source/src/daemon/auto_start.rs's ensure_daemon.
func connectClient() (*client.Client, error) {
	return client.EnsureDaemon(context.Background())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func formatPID(pid *int) string {
	if pid == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *pid)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}
