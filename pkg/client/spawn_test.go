package client

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cuemby/granary/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonPIDMissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, ok := DaemonPID()
	assert.False(t, ok)
}

func TestDaemonPIDValidFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := config.DaemonDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	path, err := config.DaemonPIDPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("4242"), 0o600))

	pid, ok := DaemonPID()
	require.True(t, ok)
	assert.Equal(t, 4242, pid)
}

func TestDaemonPIDGarbageFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := config.DaemonDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	path, err := config.DaemonPIDPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	_, ok := DaemonPID()
	assert.False(t, ok)
}

func TestEndpointMatchesPlatformConvention(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	ep, err := endpoint()
	require.NoError(t, err)

	if runtime.GOOS == "windows" {
		assert.Contains(t, ep, `\\.\pipe\granaryd-`)
	} else {
		sock, err := config.DaemonSocketPath()
		require.NoError(t, err)
		assert.Equal(t, sock, ep)
		assert.Equal(t, filepath.Base(sock), "granaryd.sock")
	}
}

func TestIsDaemonRunningFalseWithNoDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.False(t, IsDaemonRunning(context.Background()))
}
