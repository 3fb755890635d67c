package dispatch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager wires a Manager against a throwaway bbolt file and a fast
// poll interval, so dispatch tests don't need to wait out production-sized
// timers.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBoltStore(filepath.Join(dir, "granary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Dispatch.PollInterval = 10 * time.Millisecond
	cfg.Backoff.Base = 20 * time.Millisecond
	cfg.Backoff.Max = 100 * time.Millisecond

	return NewManager(store, events.NewBroker(), logstore.New(filepath.Join(dir, "logs")), cfg, metrics.NewRegistry())
}

func awaitTerminalRun(t *testing.T, m *Manager, workerID string, timeout time.Duration) *types.Run {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		runs, err := m.ListRuns(workerID, "", true)
		require.NoError(t, err)
		if len(runs) > 0 && runs[0].Status.IsTerminal() {
			return runs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker %s produced no terminal run within %s", workerID, timeout)
	return nil
}

func awaitRunStatus(t *testing.T, m *Manager, workerID string, status types.RunStatus, timeout time.Duration) *types.Run {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		runs, err := m.ListRuns(workerID, "", true)
		require.NoError(t, err)
		if len(runs) > 0 && runs[0].Status == status {
			return runs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker %s never reached status %s within %s", workerID, status, timeout)
	return nil
}

func publish(t *testing.T, m *Manager, eventType string) {
	t.Helper()
	_, err := m.store.AppendEvent(&types.Event{EventType: eventType, Payload: map[string]any{}, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	m.broker.Notify()
}

func TestStartWorkerRequiresCommandOrRunner(t *testing.T) {
	m := newTestManager(t)
	_, err := m.StartWorker(types.StartWorkerSpec{EventType: "x", Concurrency: 1, MaxAttempts: 1})
	assert.Error(t, err)
}

func TestStartWorkerRequiresEventType(t *testing.T) {
	m := newTestManager(t)
	_, err := m.StartWorker(types.StartWorkerSpec{Command: "true", Concurrency: 1, MaxAttempts: 1})
	assert.Error(t, err)
}

func TestStartWorkerRejectsNonPositiveConcurrency(t *testing.T) {
	m := newTestManager(t)
	_, err := m.StartWorker(types.StartWorkerSpec{Command: "true", EventType: "x", Concurrency: 0, MaxAttempts: 1})
	assert.Error(t, err)

	_, err = m.StartWorker(types.StartWorkerSpec{Command: "true", EventType: "x", Concurrency: -1, MaxAttempts: 1})
	assert.Error(t, err)
}

func TestDispatchRunsCompletedCommandToCompletion(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sh",
		Args:        []string{"-c", "exit 0"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")

	run := awaitTerminalRun(t, m, w.ID, 2*time.Second)
	assert.Equal(t, types.RunCompleted, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)

	_, err = m.StopWorker(w.ID, false)
	require.NoError(t, err)
}

func TestDispatchFailedCommandRetriesThenFails(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sh",
		Args:        []string{"-c", "exit 7"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 2,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")

	// First attempt fails and is retried; wait for the second attempt's run
	// to show up and finish before asserting the final outcome.
	deadline := time.Now().Add(3 * time.Second)
	var last *types.Run
	for time.Now().Before(deadline) {
		runs, err := m.ListRuns(w.ID, "", true)
		require.NoError(t, err)
		for _, r := range runs {
			if r.Attempt == 2 && r.Status.IsTerminal() {
				last = r
			}
		}
		if last != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, last, "expected a second attempt to complete")
	assert.Equal(t, types.RunFailed, last.Status)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 7, *last.ExitCode)

	_, err = m.StopWorker(w.ID, false)
	require.NoError(t, err)
}

func TestStopWorkerKillsInFlightRun(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sleep",
		Args:        []string{"30"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")
	awaitRunStatus(t, m, w.ID, types.RunRunning, 2*time.Second)

	stopped, err := m.StopWorker(w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStopped, stopped.Status)

	run := awaitTerminalRun(t, m, w.ID, 2*time.Second)
	assert.Equal(t, types.RunCancelled, run.Status)
}

func TestPauseAndResumeRun(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sleep",
		Args:        []string{"30"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")
	run := awaitRunStatus(t, m, w.ID, types.RunRunning, 2*time.Second)

	paused, err := m.PauseRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunPaused, paused.Status)

	resumed, err := m.ResumeRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, resumed.Status)

	_, err = m.StopWorker(w.ID, true)
	require.NoError(t, err)
}

func TestPauseRunRejectsNonRunningRun(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sh",
		Args:        []string{"-c", "exit 0"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")
	run := awaitTerminalRun(t, m, w.ID, 2*time.Second)

	_, err = m.PauseRun(run.ID)
	assert.Error(t, err)

	_, err = m.StopWorker(w.ID, false)
	require.NoError(t, err)
}

func TestStopRunAlreadyTerminalIsBlocked(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sh",
		Args:        []string{"-c", "exit 0"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")
	run := awaitTerminalRun(t, m, w.ID, 2*time.Second)

	_, err = m.StopRun(run.ID)
	assert.Error(t, err)

	_, err = m.StopWorker(w.ID, false)
	require.NoError(t, err)
}

func TestListWorkersAllVsActive(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{Command: "true", EventType: "x", Concurrency: 1, MaxAttempts: 1})
	require.NoError(t, err)
	_, err = m.StopWorker(w.ID, false)
	require.NoError(t, err)

	active, err := m.ListWorkers(false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := m.ListWorkers(true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPruneWorkersRemovesOnlyTerminalWorkers(t *testing.T) {
	m := newTestManager(t)

	stopped, err := m.StartWorker(types.StartWorkerSpec{Command: "true", EventType: "x", Concurrency: 1, MaxAttempts: 1})
	require.NoError(t, err)
	_, err = m.StopWorker(stopped.ID, false)
	require.NoError(t, err)

	live, err := m.StartWorker(types.StartWorkerSpec{Command: "sleep", Args: []string{"30"}, EventType: "y", Concurrency: 1, MaxAttempts: 1})
	require.NoError(t, err)

	n, err := m.PruneWorkers()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.GetWorker(stopped.ID)
	assert.Error(t, err)

	_, err = m.GetWorker(live.ID)
	assert.NoError(t, err)

	_, err = m.StopWorker(live.ID, true)
	require.NoError(t, err)
}

func TestRestoreMarksRunningWorkersStoppedWhenProcessIsGone(t *testing.T) {
	m := newTestManager(t)

	now := time.Now().UTC()
	pid := 999999 // exceedingly unlikely to be a live pid
	w := &types.Worker{
		ID:          "orphan",
		Command:     "true",
		EventType:   "x",
		Concurrency: 1,
		MaxAttempts: 1,
		Status:      types.WorkerRunning,
		PID:         &pid,
		CreatedAt:   now,
		UpdatedAt:   now,
		StartedAt:   &now,
	}
	require.NoError(t, m.store.CreateWorker(w))

	require.NoError(t, m.Restore())

	restored, err := m.GetWorker("orphan")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStopped, restored.Status)
	assert.Nil(t, restored.PID)
	assert.NotEmpty(t, restored.ErrorMessage)
}

func TestShutdownStopsAllRunningWorkers(t *testing.T) {
	m := newTestManager(t)

	w, err := m.StartWorker(types.StartWorkerSpec{
		Command:     "sleep",
		Args:        []string{"30"},
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	publish(t, m, "deploy")
	awaitRunStatus(t, m, w.ID, types.RunRunning, 2*time.Second)

	m.Shutdown(2 * time.Second)

	run := awaitTerminalRun(t, m, w.ID, 2*time.Second)
	assert.Equal(t, types.RunCancelled, run.Status)
}
