// Package logstore owns per-target log files — one per run, one per
// worker — and the offset-based tail operation the IPC layer exposes as
// GetLogs/WorkerLogs/RunLogs. Grounded on spec.md §4.5 and the path layout
// implied by original_source/src/services/runner.rs's
// read_log/log_path, generalized to cover worker-level supervisor logs as
// well as run logs.
package logstore

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/types"
)

// Store resolves and tails log files under a root logs directory
// (${HOME}/.granary/logs/<worker_id>/ per the path layout).
type Store struct {
	root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// WorkerDir returns the log directory for workerID, creating it if needed.
func (s *Store) WorkerDir(workerID string) (string, error) {
	dir := filepath.Join(s.root, workerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", granaryerr.Wrap(granaryerr.Internal, "create worker log dir", err)
	}
	return dir, nil
}

// WorkerLogPath returns the path to a worker's supervisor-level log file.
func (s *Store) WorkerLogPath(workerID string) string {
	return filepath.Join(s.root, workerID, "worker.log")
}

// RunLogPath returns the path to a run's combined stdout/stderr log file.
func (s *Store) RunLogPath(workerID, runID string) string {
	return filepath.Join(s.root, workerID, runID+".log")
}

// OpenWorkerLog opens (creating if needed) a worker's supervisor log file
// for appending.
func (s *Store) OpenWorkerLog(workerID string) (*os.File, error) {
	dir, err := s.WorkerDir(workerID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "worker.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "open worker log", err)
	}
	return f, nil
}

// Tail returns up to limit lines from path starting at zero-indexed line
// sinceLine, plus the next cursor and whether more content remains —
// either unread bytes already on disk, or the target still being active.
func Tail(path string, sinceLine, limit int, isActive bool) (types.LogsResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.LogsResponse{LogPath: path, HasMore: isActive}, nil
		}
		return types.LogsResponse{}, granaryerr.Wrap(granaryerr.Internal, "open log file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lines []string
	lineNo := 0
	for scanner.Scan() {
		if lineNo >= sinceLine && len(lines) < limit {
			lines = append(lines, scanner.Text())
		}
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return types.LogsResponse{}, granaryerr.Wrap(granaryerr.Internal, "scan log file", err)
	}

	nextLine := sinceLine + len(lines)
	moreOnDisk := nextLine < lineNo
	return types.LogsResponse{
		Lines:    lines,
		NextLine: nextLine,
		HasMore:  moreOnDisk || isActive,
		LogPath:  path,
	}, nil
}

// ReadTail returns the last n lines of path, for non-follow callers.
func ReadTail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, granaryerr.Newf(granaryerr.NotFound, "log file not found: %s", path)
		}
		return nil, granaryerr.Wrap(granaryerr.Internal, "open log file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var ring []string
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "scan log file", err)
	}
	return ring, nil
}
