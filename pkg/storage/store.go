// Package storage is the daemon's embedded single-writer state store: one
// bbolt file per workspace holding workers, runs, and events. Grounded on
// cuemby-warren/pkg/storage's Store-interface-plus-BoltStore shape,
// narrowed from warren's cluster domain (nodes/services/containers/...) to
// Granary's worker/run/event domain (spec.md §3).
package storage

import "github.com/cuemby/granary/pkg/types"

// Store is the daemon's persistence interface. A single BoltStore backs
// one workspace's database file; the daemon holds exactly one Store per
// running workspace (spec.md §4.9/§10's "owned singleton" state-store
// pool).
type Store interface {
	// Workers
	CreateWorker(w *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(w *types.Worker) error
	DeleteWorker(id string) error

	// Runs
	CreateRun(r *types.Run) error
	GetRun(id string) (*types.Run, error)
	ListRunsByWorker(workerID string) ([]*types.Run, error)
	ListActiveRuns() ([]*types.Run, error)
	UpdateRun(r *types.Run) error

	// Events — append-only, ordered by monotonically increasing ID.
	AppendEvent(e *types.Event) (int64, error)
	ListEventsSince(eventType string, sinceID int64, limit int) ([]*types.Event, error)
	MaxEventID() (int64, error)

	Close() error
}
