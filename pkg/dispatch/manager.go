// Package dispatch implements the worker manager and per-worker run
// dispatcher: the lifecycle state machine, concurrency-gated event
// admission, process supervision, and retry scheduling of spec.md §4.4
// through §4.7. Grounded on the teacher's manager/scheduler/reconciler
// package trio for the "owned map of live runtime state, mutated only
// through manager methods" shape (cuemby-warren/pkg/manager,
// pkg/scheduler), generalized from cluster node/service reconciliation to
// single-process worker/run dispatch.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/filter"
	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/process"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// runtime is the manager's in-memory state for one live worker: the
// process-wide handle spec.md §4.4 calls a WorkerRuntime — record,
// dispatcher goroutine, cancel signal, concurrency permit pool — plus the
// bookkeeping needed to group-kill in-flight runs on StopWorker(stop_runs).
type runtime struct {
	mu       sync.Mutex
	worker   types.Worker
	cancel   chan struct{}
	canceled bool
	sem      *semaphore.Weighted
	stopped  chan struct{} // closed when the dispatcher loop returns
	handles  map[string]*process.Handle
}

// Manager owns the process-wide map from worker id to runtime. It is the
// only component that mutates that map; handlers go through its methods
// (spec.md §5's "Shared-resource policy").
type Manager struct {
	mu       sync.Mutex
	runtimes map[string]*runtime

	store   storage.Store
	broker  *events.Broker
	logs    *logstore.Store
	cfg     *config.GlobalConfig
	metrics *metrics.Registry
}

// NewManager builds a Manager. cfg is read for each worker's retry/poll
// settings at dispatch time, so changes to cfg after daemon start are
// picked up by newly-started workers but not ones already running.
// metricsReg may be nil (tests and callers that don't care about
// counters) — every call site nil-checks before use.
func NewManager(store storage.Store, broker *events.Broker, logs *logstore.Store, cfg *config.GlobalConfig, metricsReg *metrics.Registry) *Manager {
	return &Manager{
		runtimes: make(map[string]*runtime),
		store:    store,
		broker:   broker,
		logs:     logs,
		cfg:      cfg,
		metrics:  metricsReg,
	}
}

// StartWorker creates a Worker row, validates and resolves its spec
// (including runner-template lookup, §E.3), and spawns its dispatcher.
func (m *Manager) StartWorker(spec types.StartWorkerSpec) (*types.Worker, error) {
	command, args, env, concurrency, maxAttempts, err := m.resolveSpec(spec)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		return nil, granaryerr.New(granaryerr.UserInput, "concurrency must be positive")
	}
	if spec.EventType == "" {
		return nil, granaryerr.New(granaryerr.UserInput, "event_type is required")
	}
	if _, err := filter.ParseFilters(spec.Filters); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &types.Worker{
		ID:           uuid.NewString(),
		RunnerName:   spec.RunnerName,
		Command:      command,
		Args:         args,
		Env:          env,
		EventType:    spec.EventType,
		Filters:      spec.Filters,
		Concurrency:  concurrency,
		MaxAttempts:  maxAttempts,
		InstancePath: spec.InstancePath,
		Status:       types.WorkerPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateWorker(w); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "persist worker", err)
	}

	sinceID, err := m.resolveSince(spec.Since)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		worker:  *w,
		cancel:  make(chan struct{}),
		sem:     semaphore.NewWeighted(int64(concurrency)),
		stopped: make(chan struct{}),
		handles: make(map[string]*process.Handle),
	}

	filters, _ := filter.ParseFilters(spec.Filters) // already validated above

	m.mu.Lock()
	m.runtimes[w.ID] = rt
	m.mu.Unlock()

	startedAt := now
	w.Status = types.WorkerRunning
	w.StartedAt = &startedAt
	w.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateWorker(w); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "persist worker start", err)
	}
	rt.mu.Lock()
	rt.worker = *w
	rt.mu.Unlock()

	go m.runDispatcher(rt, filters, sinceID)

	return w, nil
}

// resolveSpec applies runner-template resolution (§E.3): an explicit
// command always wins; otherwise runner_name must name a configured
// template.
func (m *Manager) resolveSpec(spec types.StartWorkerSpec) (command string, args, env []string, concurrency, maxAttempts int, err error) {
	command, args, env = spec.Command, spec.Args, spec.Env
	concurrency, maxAttempts = spec.Concurrency, spec.MaxAttempts

	if command == "" {
		if spec.RunnerName == "" {
			return "", nil, nil, 0, 0, granaryerr.New(granaryerr.UserInput, "command or runner_name is required")
		}
		rt, ok := m.cfg.GetRunner(spec.RunnerName)
		if !ok {
			return "", nil, nil, 0, 0, granaryerr.Newf(granaryerr.UserInput, "unknown runner %q", spec.RunnerName)
		}
		command = rt.Command
		if len(args) == 0 {
			args = rt.Args
		}
		if concurrency == 0 {
			concurrency = rt.Concurrency
		}
		if maxAttempts == 0 {
			maxAttempts = rt.MaxAttempts
		}
		if len(env) == 0 {
			env = envMapToSlice(rt.Env)
		}
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return command, args, env, concurrency, maxAttempts, nil
}

func envMapToSlice(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

// resolveSince seeds a new worker's dispatch cursor: the store's current
// max event id (so it never replays history) unless an explicit --since
// timestamp was resolved upstream into an id by the caller. spec.md §4.4.1
// treats both as "the resolved since cursor"; this package only deals in
// ids, so a non-numeric Since is rejected here as UserInput.
func (m *Manager) resolveSince(since string) (int64, error) {
	if since == "" {
		return m.store.MaxEventID()
	}
	var id int64
	if _, err := fmt.Sscanf(since, "%d", &id); err != nil {
		return 0, granaryerr.Newf(granaryerr.UserInput, "invalid since cursor %q", since)
	}
	return id, nil
}

// StopWorker fires the runtime's cancel signal and, when stopRuns is set,
// group-kills every in-flight run. It blocks until the dispatcher has
// observed cancellation and exited.
func (m *Manager) StopWorker(workerID string, stopRuns bool) (*types.Worker, error) {
	m.mu.Lock()
	rt, ok := m.runtimes[workerID]
	m.mu.Unlock()
	if !ok {
		return nil, granaryerr.Newf(granaryerr.NotFound, "worker %s not found", workerID)
	}

	rt.mu.Lock()
	if !rt.canceled {
		rt.canceled = true
		close(rt.cancel)
	}
	handles := make([]*process.Handle, 0, len(rt.handles))
	for _, h := range rt.handles {
		handles = append(handles, h)
	}
	rt.mu.Unlock()

	if stopRuns {
		for _, h := range handles {
			h.StartKill()
		}
	}

	<-rt.stopped

	m.mu.Lock()
	delete(m.runtimes, workerID)
	m.mu.Unlock()

	w, err := m.store.GetWorker(workerID)
	if err != nil {
		return nil, err
	}
	stoppedAt := time.Now().UTC()
	w.Status = types.WorkerStopped
	w.StoppedAt = &stoppedAt
	w.PID = nil
	w.UpdatedAt = stoppedAt
	if err := m.store.UpdateWorker(w); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "persist worker stop", err)
	}
	return w, nil
}

// GetWorker returns the persisted Worker record.
func (m *Manager) GetWorker(id string) (*types.Worker, error) {
	return m.store.GetWorker(id)
}

// ListWorkers returns all workers, or only non-Stopped ones when all is
// false (§4.3's ListWorkers{all}).
func (m *Manager) ListWorkers(all bool) ([]*types.Worker, error) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		return nil, err
	}
	if all {
		return workers, nil
	}
	filtered := workers[:0]
	for _, w := range workers {
		if w.Status != types.WorkerStopped {
			filtered = append(filtered, w)
		}
	}
	return filtered, nil
}

// PruneWorkers deletes Stopped/Error workers from persistent state and
// returns the count removed.
func (m *Manager) PruneWorkers() (int, error) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, w := range workers {
		if w.Status == types.WorkerStopped || w.Status == types.WorkerError {
			if err := m.store.DeleteWorker(w.ID); err != nil {
				return count, granaryerr.Wrap(granaryerr.Internal, "prune worker", err)
			}
			count++
		}
	}
	return count, nil
}

// Restore implements spec.md §4.4's restart policy: every persisted
// worker last recorded Running is transitioned to Stopped and not
// re-spawned. Its error message says whether the recorded pid still
// denoted a live process (one this daemon did not spawn; it is neither
// adopted nor signalled) or the process was gone.
func (m *Manager) Restore() error {
	workers, err := m.store.ListWorkers()
	if err != nil {
		return granaryerr.Wrap(granaryerr.Internal, "restore: list workers", err)
	}
	for _, w := range workers {
		if w.Status != types.WorkerRunning {
			continue
		}
		alive := w.PID != nil && process.IsAlive(*w.PID)
		if alive {
			w.ErrorMessage = "daemon restarted with this worker recorded Running under a pid this process did not spawn"
		} else {
			w.ErrorMessage = "daemon restarted; worker was Running but its process is gone"
		}
		stoppedAt := time.Now().UTC()
		w.Status = types.WorkerStopped
		w.StoppedAt = &stoppedAt
		w.PID = nil
		w.UpdatedAt = stoppedAt
		if err := m.store.UpdateWorker(w); err != nil {
			return granaryerr.Wrap(granaryerr.Internal, "restore: persist worker", err)
		}
		log.WithComponent("dispatch").Warn().Str("worker_id", w.ID).Msg(w.ErrorMessage)
	}
	return nil
}

// Shutdown cancels every running worker's dispatcher, group-kills their
// in-flight runs, and waits (bounded by grace) for all dispatchers to
// exit (spec.md §4.4 "Shutdown").
func (m *Manager) Shutdown(grace time.Duration) {
	m.mu.Lock()
	runtimes := make([]*runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		runtimes = append(runtimes, rt)
	}
	m.mu.Unlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		if !rt.canceled {
			rt.canceled = true
			close(rt.cancel)
		}
		for _, h := range rt.handles {
			h.StartKill()
		}
		rt.mu.Unlock()
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, rt := range runtimes {
		select {
		case <-rt.stopped:
		case <-deadline.C:
			log.WithComponent("dispatch").Warn().Msg("shutdown grace period elapsed; abandoning remaining dispatchers")
			return
		}
	}
}

// GetRun returns the persisted Run record.
func (m *Manager) GetRun(id string) (*types.Run, error) {
	return m.store.GetRun(id)
}

// ListRuns returns runs for workerID (all workers if empty), optionally
// filtered by status, restricted to active (non-terminal) runs unless all
// is set (spec.md §4.3's ListRuns{worker?, status?, all}). With an empty
// workerID and all set, runs of pruned workers are not listed.
func (m *Manager) ListRuns(workerID string, status types.RunStatus, all bool) ([]*types.Run, error) {
	var runs []*types.Run
	var err error
	if workerID != "" {
		runs, err = m.store.ListRunsByWorker(workerID)
	} else if all {
		workers, werr := m.store.ListWorkers()
		if werr != nil {
			return nil, werr
		}
		for _, w := range workers {
			workerRuns, werr := m.store.ListRunsByWorker(w.ID)
			if werr != nil {
				return nil, werr
			}
			runs = append(runs, workerRuns...)
		}
	} else {
		runs, err = m.store.ListActiveRuns()
	}
	if err != nil {
		return nil, err
	}

	filtered := runs[:0]
	for _, r := range runs {
		if status != "" && r.Status != status {
			continue
		}
		if workerID != "" && !all && r.Status.IsTerminal() {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// findHandle locates the live process handle for runID across every
// running worker's runtime, if any.
func (m *Manager) findHandle(runID string) *process.Handle {
	m.mu.Lock()
	runtimes := make([]*runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		runtimes = append(runtimes, rt)
	}
	m.mu.Unlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		h := rt.handles[runID]
		rt.mu.Unlock()
		if h != nil {
			return h
		}
	}
	return nil
}

// StopRun kills the single in-flight process for run id, if it is still
// running. The supervising attemptRun goroutine observes the exit and
// persists the Cancelled outcome itself (§4.6); this method only signals.
func (m *Manager) StopRun(id string) (*types.Run, error) {
	run, err := m.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, granaryerr.Newf(granaryerr.Blocked, "run %s is already %s", id, run.Status)
	}
	if h := m.findHandle(id); h != nil {
		if err := h.StartKill(); err != nil {
			return nil, granaryerr.Wrap(granaryerr.Internal, "stop run", err)
		}
	}
	return run, nil
}

// PauseRun suspends run id's process group. Only a Running run with a
// live handle can be paused.
func (m *Manager) PauseRun(id string) (*types.Run, error) {
	run, err := m.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunRunning {
		return nil, granaryerr.Newf(granaryerr.Blocked, "cannot pause run %s in status %s", id, run.Status)
	}
	h := m.findHandle(id)
	if h == nil {
		return nil, granaryerr.Newf(granaryerr.Blocked, "run %s has no live process to pause", id)
	}
	if err := h.Pause(); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "pause run", err)
	}
	run.Status = types.RunPaused
	run.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateRun(run); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "persist run pause", err)
	}
	return run, nil
}

// ResumeRun reverses PauseRun.
func (m *Manager) ResumeRun(id string) (*types.Run, error) {
	run, err := m.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunPaused {
		return nil, granaryerr.Newf(granaryerr.Blocked, "cannot resume run %s in status %s", id, run.Status)
	}
	h := m.findHandle(id)
	if h == nil {
		return nil, granaryerr.Newf(granaryerr.Blocked, "run %s has no live process to resume", id)
	}
	if err := h.Resume(); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "resume run", err)
	}
	run.Status = types.RunRunning
	run.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateRun(run); err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "persist run resume", err)
	}
	return run, nil
}

// ctxFromCancel adapts a channel-based cancel signal to a context, so
// permit acquisition (§5 "cancellation must pre-empt permit acquisition")
// can use semaphore.Weighted's context-aware Acquire.
func ctxFromCancel(cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(context.Background())
	go func() {
		select {
		case <-cancel:
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}
