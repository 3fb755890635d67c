// Command granaryd is the workspace daemon: one process per resolved
// workspace (§4.9), holding the dispatch manager, the log store, and the
// IPC listener for the lifetime of the process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/server"
	"github.com/cuemby/granary/pkg/version"
	"github.com/cuemby/granary/pkg/workspace"
)

func main() {
	var (
		logLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logJSON  = flag.Bool("log-json", true, "emit logs as JSON (daemon default; stdout ignored once daemonized)")
		grace    = flag.Duration("shutdown-grace", 0, "how long shutdown waits for connections and dispatchers to finish, e.g. 30s (0 = use default)")
	)
	flag.Parse()

	if err := run(*logLevel, *logJSON, *grace); err != nil {
		fmt.Fprintf(os.Stderr, "granaryd: %v\n", err)
		os.Exit(1)
	}
}

func run(logLevel string, logJSON bool, grace time.Duration) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	desc, err := workspace.Resolve(cwd)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	daemonDir, err := config.DaemonDir()
	if err != nil {
		return err
	}
	if err := server.EnsureDirs(daemonDir); err != nil {
		return err
	}

	logPath, err := config.DaemonLogPath()
	if err != nil {
		return err
	}
	logOut, err := logstore.NewDailyRotatingWriter(logPath)
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
		Output:     logOut,
	})

	socketPath, err := endpoint()
	if err != nil {
		return err
	}
	pidPath, err := config.DaemonPIDPath()
	if err != nil {
		return err
	}
	tokenPath, err := config.DaemonAuthTokenPath()
	if err != nil {
		return err
	}

	logger := log.WithComponent("granaryd")
	logger.Info().
		Str("version", version.Version).
		Str("workspace", string(desc.Mode)).
		Str("db", desc.DatabasePath).
		Str("socket", socketPath).
		Msg("starting")

	srv, err := server.New(server.Options{
		DatabasePath:  desc.DatabasePath,
		SocketPath:    socketPath,
		PIDPath:       pidPath,
		AuthTokenPath: tokenPath,
		LogsRoot:      mustLogsDir(),
		ShutdownGrace: grace,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx, socketPath, pidPath); err != nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

// endpoint returns this platform's daemon connection address: the Unix
// socket path, or the Windows named pipe name (pkg/client's own endpoint
// helper is unexported, so granaryd mirrors it rather than importing the
// client package into the daemon binary).
func endpoint() (string, error) {
	if runtime.GOOS == "windows" {
		return config.DaemonPipeName(), nil
	}
	return config.DaemonSocketPath()
}

func mustLogsDir() string {
	dir, err := config.LogsDir()
	if err != nil {
		return ""
	}
	return dir
}
