package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/granaryerr"
)

// daemonRetries/daemonBaseDelay implement auto_start.rs's "50ms, 100ms,
// 150ms, ..." linear backoff for ten attempts after spawning the daemon.
const (
	daemonRetries   = 10
	daemonBaseDelay = 50 * time.Millisecond
)

// endpoint returns this platform's daemon connection address: the Unix
// socket path, or the Windows named pipe name.
func endpoint() (string, error) {
	if runtime.GOOS == "windows" {
		return config.DaemonPipeName(), nil
	}
	return config.DaemonSocketPath()
}

// EnsureDaemon connects to an already-running daemon, or spawns one and
// retries the connection with linear backoff, mirroring
// original_source/src/daemon/auto_start.rs::ensure_daemon.
func EnsureDaemon(ctx context.Context) (*Client, error) {
	ep, err := endpoint()
	if err != nil {
		return nil, err
	}
	token, err := readToken()
	if err != nil {
		return nil, err
	}

	if c, err := Connect(ctx, ep, token); err == nil {
		return c, nil
	}

	if err := spawnDaemon(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < daemonRetries; attempt++ {
		delay := time.Duration(attempt+1) * daemonBaseDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// The auth token file is written by the daemon itself on first
		// start, so it may not exist yet on the very first retries.
		token, err = readToken()
		if err != nil {
			lastErr = err
			continue
		}
		if c, err := Connect(ctx, ep, token); err == nil {
			return c, nil
		} else {
			lastErr = err
		}
	}

	logPath, _ := config.DaemonLogPath()
	msg := fmt.Sprintf("failed to start daemon; check %s.<date> for details", logPath)
	if lastErr != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, msg, lastErr)
	}
	return nil, granaryerr.New(granaryerr.Internal, msg)
}

// IsDaemonRunning reports whether a connection to the daemon succeeds.
func IsDaemonRunning(ctx context.Context) bool {
	ep, err := endpoint()
	if err != nil {
		return false
	}
	token, err := readToken()
	if err != nil {
		return false
	}
	c, err := Connect(ctx, ep, token)
	if err != nil {
		return false
	}
	c.Close()
	return true
}

// DaemonPID reads the daemon's recorded pid. It does not verify the
// process is still alive — use IsDaemonRunning for a connection-based
// liveness check (auto_start.rs's daemon_pid doc comment carries the
// same caveat).
func DaemonPID() (int, bool) {
	path, err := config.DaemonPIDPath()
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

func readToken() (string, error) {
	path, err := config.DaemonAuthTokenPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", granaryerr.Wrap(granaryerr.Internal, "read daemon auth token", err)
	}
	return string(data), nil
}

// daemonBinaryName is the daemon executable granary looks for next to
// the running granary binary (current_exe().with_file_name(...) in
// auto_start.rs).
func daemonBinaryName() string {
	if runtime.GOOS == "windows" {
		return "granaryd.exe"
	}
	return "granaryd"
}

// spawnDaemon locates and starts the daemon binary in the background,
// with stdio redirected to null — the daemon sets up its own logging.
func spawnDaemon() error {
	exePath, err := os.Executable()
	if err != nil {
		return granaryerr.Wrap(granaryerr.Internal, "resolve current executable", err)
	}
	daemonPath := filepath.Join(filepath.Dir(exePath), daemonBinaryName())
	if _, err := os.Stat(daemonPath); err != nil {
		return granaryerr.Newf(granaryerr.Internal, "daemon binary not found at %s", daemonPath)
	}

	daemonDir, err := config.DaemonDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(daemonDir, 0o700); err != nil {
		return granaryerr.Wrap(granaryerr.Internal, "create daemon directory", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Stdin = nil
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		cmd.Stdin = devNull
		cmd.Stdout = devNull
		cmd.Stderr = devNull
	}
	detachDaemon(cmd)

	if err := cmd.Start(); err != nil {
		return granaryerr.Wrap(granaryerr.Internal, "spawn daemon", err)
	}
	// The daemon is intentionally not waited on — it outlives this process.
	go cmd.Wait()
	return nil
}
