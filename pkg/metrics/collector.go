package metrics

import (
	"time"

	"github.com/cuemby/granary/pkg/storage"
)

// workerStatuses and runStatuses are the full label sets collect resets
// before each sweep, so a status that drops to zero is reported as zero
// rather than left at its last nonzero value.
var (
	workerStatuses = []string{"Pending", "Running", "Stopped", "Error"}
	runStatuses    = []string{"Pending", "Running", "Completed", "Failed", "Paused", "Cancelled"}
)

// Collector periodically snapshots store state into a Registry's gauges.
// Grounded on cuemby-warren/pkg/metrics's Collector (ticker-driven
// collect() over the manager's list methods), narrowed from cluster
// node/service/task counts to worker/run counts and read from
// storage.Store directly rather than through the dispatch manager, since
// status counts are a pure function of persisted state.
type Collector struct {
	registry *Registry
	store    storage.Store
	stopCh   chan struct{}
}

// NewCollector builds a Collector over store, reporting into registry.
func NewCollector(registry *Registry, store storage.Store) *Collector {
	return &Collector{registry: registry, store: store, stopCh: make(chan struct{})}
}

// Start begins the periodic collection sweep on its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection sweep.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.registry.ResetWorkerStatuses(workerStatuses)
	c.registry.ResetRunStatuses(runStatuses)

	if workers, err := c.store.ListWorkers(); err == nil {
		counts := make(map[string]int, len(workerStatuses))
		for _, w := range workers {
			counts[string(w.Status)]++
		}
		c.registry.SetWorkersByStatus(counts)
	}

	if runs, err := c.store.ListActiveRuns(); err == nil {
		counts := make(map[string]int, len(runStatuses))
		for _, r := range runs {
			counts[string(r.Status)]++
		}
		c.registry.SetRunsByStatus(counts)
	}
}
