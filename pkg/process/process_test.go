package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnCapturesExitCodeAndLog(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-1", "sh", []string{"-c", "echo hello; exit 3"}, nil, dir, dir)
	require.NoError(t, err)

	exitCode, waitErr := h.Wait()
	assert.NoError(t, waitErr)
	assert.Equal(t, 3, exitCode)

	out, err := ReadLog("run-1", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestSpawnWritesEnvAdditively(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-env", "sh", []string{"-c", "echo $GRANARY_TEST_VAR"}, []string{"GRANARY_TEST_VAR=present"}, dir, dir)
	require.NoError(t, err)

	exitCode, waitErr := h.Wait()
	require.NoError(t, waitErr)
	require.Equal(t, 0, exitCode)

	out, err := ReadLog("run-env", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "present")
}

func TestTryWaitReportsRunningThenDone(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-2", "sleep", []string{"1"}, nil, dir, dir)
	require.NoError(t, err)

	_, exited, _ := h.TryWait()
	assert.False(t, exited)

	_, waitErr := h.Wait()
	assert.NoError(t, waitErr)

	_, exited, _ = h.TryWait()
	assert.True(t, exited)
}

func TestKillTerminatesProcessGroup(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-3", "sleep", []string{"30"}, nil, dir, dir)
	require.NoError(t, err)

	assert.True(t, IsAlive(h.PID))

	require.NoError(t, h.Kill())

	// Kill blocks until reaped, so the pid should no longer be alive (modulo
	// pid reuse, which a short-lived test process makes vanishingly
	// unlikely).
	assert.False(t, IsAlive(h.PID))
}

func TestPauseAndResume(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-4", "sleep", []string{"5"}, nil, dir, dir)
	require.NoError(t, err)
	defer h.Kill()

	require.NoError(t, h.Pause())
	require.NoError(t, h.Resume())

	assert.True(t, IsAlive(h.PID))
}

func TestIsAliveFalseForImprobablePID(t *testing.T) {
	assert.False(t, IsAlive(999999))
}

func TestReadLogMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadLog("does-not-exist", dir)
	assert.Error(t, err)
}

func TestLogPathJoinsDirAndRunID(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/logs", "abc.log"), LogPath("abc", "/tmp/logs"))
}

func TestSpawnCreatesLogDirectory(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "nested", "dir")

	h, err := Spawn("run-5", "sh", []string{"-c", "exit 0"}, nil, nested, base)
	require.NoError(t, err)
	_, _ = h.Wait()

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWaitIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	h, err := Spawn("run-6", "sh", []string{"-c", "exit 0"}, nil, dir, dir)
	require.NoError(t, err)

	code1, err1 := h.Wait()
	code2, err2 := h.Wait()

	assert.Equal(t, code1, code2)
	assert.Equal(t, err1, err2)
}
