package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestRegistrySnapshotReflectsSetValues(t *testing.T) {
	reg := NewRegistry()
	reg.SetWorkersByStatus(map[string]int{"Running": 2, "Stopped": 1})
	reg.SetRunsByStatus(map[string]int{"Pending": 3})
	reg.IncRunStarted()
	reg.IncRunStarted()
	reg.IncRunRetried()
	reg.IncRunCancelled()

	snap, err := reg.GetMetricsSnapshot()
	require.NoError(t, err)
	require.Equal(t, float64(2), snap.WorkersByStatus["Running"])
	require.Equal(t, float64(1), snap.WorkersByStatus["Stopped"])
	require.Equal(t, float64(3), snap.RunsByStatus["Pending"])
	require.Equal(t, float64(2), snap.RunsStarted)
	require.Equal(t, float64(1), snap.RunsRetried)
	require.Equal(t, float64(1), snap.RunsCancelled)
}

func TestResetWorkerStatusesZeroesAbsentStatuses(t *testing.T) {
	reg := NewRegistry()
	reg.SetWorkersByStatus(map[string]int{"Running": 5})
	reg.ResetWorkerStatuses(workerStatuses)

	snap, err := reg.GetMetricsSnapshot()
	require.NoError(t, err)
	require.Equal(t, float64(0), snap.WorkersByStatus["Running"])
}

func TestCollectorCollectsFromStore(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "granary.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.CreateWorker(&types.Worker{
		ID: "w1", Command: "echo", EventType: "task.created",
		Status: types.WorkerRunning, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateWorker(&types.Worker{
		ID: "w2", Command: "echo", EventType: "task.created",
		Status: types.WorkerStopped, CreatedAt: now, UpdatedAt: now,
	}))

	reg := NewRegistry()
	c := NewCollector(reg, store)
	c.collect()

	snap, err := reg.GetMetricsSnapshot()
	require.NoError(t, err)
	require.Equal(t, float64(1), snap.WorkersByStatus["Running"])
	require.Equal(t, float64(1), snap.WorkersByStatus["Stopped"])
	require.Equal(t, float64(0), snap.WorkersByStatus["Pending"])
}
