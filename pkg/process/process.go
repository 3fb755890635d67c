// Package process spawns and supervises the OS child processes backing
// Runs. Each spawned process becomes its own process-group leader on Unix
// so that stopping a Run can kill its entire descendant tree, not just the
// immediate child — grounded on
// original_source/src/services/runner.rs::spawn_runner/RunnerHandle.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/granary/pkg/granaryerr"
)

// waitResult is the outcome of a completed process, delivered once over
// Handle.done.
type waitResult struct {
	exitCode int
	err      error
}

// Handle tracks one spawned Run process. The process is reaped exactly
// once by an internal goroutine; TryWait/Wait both read from the same
// result channel, which is why Handle is safe to poll repeatedly.
type Handle struct {
	RunID string
	PID   int

	cmd     *exec.Cmd
	logFile *os.File
	done    chan waitResult
	result  *waitResult
}

// Spawn starts command/args as a new process group leader, with combined
// stdout/stderr written to {logDir}/{runID}.log, running in workingDir.
// env is appended to the process's inherited environment (Granary daemon
// environment, not a full replacement — matching the teacher's
// additive-env convention elsewhere in this codebase).
func Spawn(runID, command string, args, env []string, logDir, workingDir string) (*Handle, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "create log directory", err)
	}

	logPath := filepath.Join(logDir, runID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "create run log file", err)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workingDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, granaryerr.Wrap(granaryerr.Internal, fmt.Sprintf("spawn %q", command), err)
	}

	h := &Handle{
		RunID:   runID,
		PID:     cmd.Process.Pid,
		cmd:     cmd,
		logFile: logFile,
		done:    make(chan waitResult, 1),
	}

	go h.reap()

	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.logFile.Close()
	h.done <- waitResult{exitCode: exitCodeOf(h.cmd, err), err: waitError(err)}
	close(h.done)
}

// TryWait reports whether the process has exited without blocking. exited
// is false while the process is still running; exitCode and waitErr are
// only meaningful when exited is true.
func (h *Handle) TryWait() (exitCode int, exited bool, waitErr error) {
	if h.result != nil {
		return h.result.exitCode, true, h.result.err
	}
	select {
	case r, ok := <-h.done:
		if ok {
			h.result = &r
		}
		return r.exitCode, true, r.err
	default:
		return 0, false, nil
	}
}

// Wait blocks until the process exits.
func (h *Handle) Wait() (exitCode int, waitErr error) {
	if h.result != nil {
		return h.result.exitCode, h.result.err
	}
	r, ok := <-h.done
	if ok {
		h.result = &r
	} else if h.result != nil {
		r = *h.result
	}
	return r.exitCode, r.err
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func waitError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		// Non-zero exit is a normal outcome, not a supervisor failure.
		return nil
	}
	return granaryerr.Wrap(granaryerr.Internal, "wait for run process", err)
}

// Kill terminates the process and its entire process group, then blocks
// until it has been reaped.
func (h *Handle) Kill() error {
	if err := h.StartKill(); err != nil {
		return err
	}
	_, err := h.Wait()
	return err
}

// StartKill signals the process group but does not wait for it to exit.
func (h *Handle) StartKill() error {
	return killProcessGroup(h.PID)
}

// Pause suspends the process group (SIGSTOP), backing Operation PauseRun.
func (h *Handle) Pause() error {
	return pauseProcessGroup(h.PID)
}

// Resume reverses Pause (SIGCONT), backing Operation ResumeRun.
func (h *Handle) Resume() error {
	return resumeProcessGroup(h.PID)
}

// LogPath returns the path to a run's combined stdout/stderr log file.
func LogPath(runID, logDir string) string {
	return filepath.Join(logDir, runID+".log")
}

// ReadLog returns the full contents of a run's log file.
func ReadLog(runID, logDir string) (string, error) {
	data, err := os.ReadFile(LogPath(runID, logDir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", granaryerr.Newf(granaryerr.NotFound, "log for run %s not found", runID)
		}
		return "", granaryerr.Wrap(granaryerr.Internal, "read run log", err)
	}
	return string(data), nil
}
