// Package config resolves the daemon's on-disk layout under the user's
// config directory and loads/saves the global configuration file. Path
// layout is grounded on original_source/src/services/global_config.rs,
// translated from TOML to the teacher's own yaml.v3 idiom.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const dirName = ".granary"

// HomeDir returns the user's home directory, checking USERPROFILE on
// Windows and HOME elsewhere (§6's consumed environment variables).
func HomeDir() (string, error) {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("USERPROFILE"); v != "" {
			return v, nil
		}
	}
	if v := os.Getenv("HOME"); v != "" {
		return v, nil
	}
	return os.UserHomeDir()
}

// ConfigDir returns ${HOME}/.granary.
func ConfigDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

// IsFirstRun reports whether ConfigDir does not yet exist.
func IsFirstRun() (bool, error) {
	dir, err := ConfigDir()
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(dir)
	return os.IsNotExist(statErr), nil
}

// ConfigPath returns ${HOME}/.granary/config.yaml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultDBPath returns ${HOME}/.granary/granary.db, the default workspace
// store when no other resolution mode applies (§4.9).
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "granary.db"), nil
}

// LogsDir returns ${HOME}/.granary/logs.
func LogsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// WorkerLogsDir returns ${HOME}/.granary/logs/<worker_id>.
func WorkerLogsDir(workerID string) (string, error) {
	dir, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, workerID), nil
}

// DaemonDir returns ${HOME}/.granary/daemon.
func DaemonDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon"), nil
}

// DaemonSocketPath returns ${HOME}/.granary/daemon/granaryd.sock (Unix).
func DaemonSocketPath() (string, error) {
	dir, err := DaemonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "granaryd.sock"), nil
}

// DaemonPipeName returns the Windows named pipe name for the current user,
// \\.\pipe\granaryd-<username>.
func DaemonPipeName() string {
	username := os.Getenv("USERNAME")
	if username == "" {
		username = "user"
	}
	return `\\.\pipe\granaryd-` + username
}

// DaemonPIDPath returns ${HOME}/.granary/daemon/granaryd.pid.
func DaemonPIDPath() (string, error) {
	dir, err := DaemonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "granaryd.pid"), nil
}

// DaemonLogPath returns ${HOME}/.granary/daemon/daemon.log (rotation
// suffixes the date; see pkg/logstore.DailyRotatingWriter).
func DaemonLogPath() (string, error) {
	dir, err := DaemonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}

// DaemonAuthTokenPath returns ${HOME}/.granary/daemon/auth.token.
func DaemonAuthTokenPath() (string, error) {
	dir, err := DaemonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.token"), nil
}

// WorkspacesDir returns ${HOME}/.granary/workspaces.
func WorkspacesDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspaces"), nil
}
