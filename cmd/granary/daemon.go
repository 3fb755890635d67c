package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/granary/pkg/client"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/process"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Control the workspace daemon directly",
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's pid and reachability",
	Long: `Reads daemon.pid directly for the pid, distinct from the
connection-based liveness check: a pid being on disk does not guarantee
the process is still running (see pkg/client.DaemonPID's own caveat).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, ok := client.DaemonPID()
		if !ok {
			fmt.Println("Daemon: not running (no pid file)")
			return nil
		}
		fmt.Printf("Daemon pid: %d\n", pid)

		if client.IsDaemonRunning(context.Background()) {
			fmt.Println("Connection: reachable")
			c, err := client.EnsureDaemon(context.Background())
			if err == nil {
				defer c.Close()
				if ping, err := c.Ping(); err == nil {
					fmt.Printf("Version: %s\n", ping.Version)
				}
			}
		} else {
			fmt.Println("Connection: unreachable (stale pid file?)")
		}
		return nil
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon if it is not already running",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if client.IsDaemonRunning(ctx) {
			fmt.Println("Daemon is already running")
			return nil
		}

		c, err := client.EnsureDaemon(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		fmt.Println("✓ Daemon started")
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request orderly daemon shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if !client.IsDaemonRunning(ctx) {
			fmt.Println("Daemon is not running")
			return nil
		}

		c, err := client.EnsureDaemon(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Shutdown(); err != nil {
			return err
		}

		fmt.Println("✓ Shutdown requested")
		return nil
	},
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the daemon, wait for it to exit, then start a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if pid, ok := client.DaemonPID(); ok && client.IsDaemonRunning(ctx) {
			c, err := client.EnsureDaemon(ctx)
			if err == nil {
				_ = c.Shutdown()
				c.Close()
			}
			if err := waitForExit(pid, 10*time.Second); err != nil {
				return granaryerr.Wrap(granaryerr.Internal, "daemon did not exit in time", err)
			}
		}

		c, err := client.EnsureDaemon(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		fmt.Println("✓ Daemon restarted")
		return nil
	},
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the daemon's own log file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.DaemonLogPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

// waitForExit polls pid's liveness until it disappears or timeout elapses.
func waitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !process.IsAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d still alive after %s", pid, timeout)
}

func init() {
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
}
