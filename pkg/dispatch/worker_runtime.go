package dispatch

import (
	"time"

	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/filter"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/process"
	"github.com/cuemby/granary/pkg/types"
)

// runDispatcher is the per-worker loop of spec.md §4.4.1: poll the event
// log for unprocessed matches, admit under the concurrency semaphore,
// spawn, and hand off to a supervising goroutine per run. It owns
// `lastSeen` exclusively — no shared mutable cursor (§9).
func (m *Manager) runDispatcher(rt *runtime, filters []filter.Filter, sinceID int64) {
	defer close(rt.stopped)

	worker := rt.worker
	wlog := log.WithWorkerID(worker.ID)
	wake := m.broker.Subscribe()
	defer m.broker.Unsubscribe(wake)

	lastSeen := sinceID

	for {
		select {
		case <-rt.cancel:
			return
		default:
		}

		batch, err := m.store.ListEventsSince(worker.EventType, lastSeen, m.cfg.Dispatch.BatchSize)
		if err != nil {
			wlog.Error().Err(err).Msg("dispatch: list events")
			if sleepInterruptible(rt.cancel, wake, m.cfg.Dispatch.PollInterval) {
				return
			}
			continue
		}

		if len(batch) == 0 {
			if sleepInterruptible(rt.cancel, wake, m.cfg.Dispatch.PollInterval) {
				return
			}
			continue
		}

		for _, ev := range batch {
			lastSeen = ev.ID

			if !filter.MatchesAll(filters, ev.Payload) {
				continue
			}

			ctx, cancelAcquire := ctxFromCancel(rt.cancel)
			err := rt.sem.Acquire(ctx, 1)
			cancelAcquire()
			if err != nil {
				// Cancelled while waiting for a permit — exit promptly
				// (spec.md §5's "on cancel while holding no permit, the
				// dispatcher exits promptly").
				return
			}

			run := m.newRun(worker, ev, 1)
			if err := m.store.CreateRun(run); err != nil {
				wlog.Error().Err(err).Msg("dispatch: persist run")
				rt.sem.Release(1)
				continue
			}

			if m.metrics != nil {
				m.metrics.ObserveDispatchLatency(time.Since(ev.CreatedAt))
			}

			go m.attemptRun(rt, worker, run)
		}
	}
}

// sleepInterruptible waits for interval, a wake notification, or
// cancellation, whichever comes first, reporting whether it was
// cancellation.
func sleepInterruptible(cancel <-chan struct{}, wake events.Subscriber, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-cancel:
		return true
	case <-wake:
		return false
	case <-timer.C:
		return false
	}
}

// newRun builds a Pending Run row for ev's first attempt, with
// command/args resolved by template substitution over the event payload
// (§4.7).
func (m *Manager) newRun(worker types.Worker, ev *types.Event, attempt int) *types.Run {
	now := time.Now().UTC()
	command := filter.Substitute(worker.Command, ev)
	args := filter.SubstituteAll(worker.Args, ev)

	return &types.Run{
		WorkerID:    worker.ID,
		EventID:     ev.ID,
		EventType:   ev.EventType,
		EntityID:    ev.EntityID,
		Command:     command,
		Args:        args,
		Status:      types.RunPending,
		Attempt:     attempt,
		MaxAttempts: worker.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// attemptRun spawns run, supervises it to completion, and on failure
// schedules the next attempt per the retry policy (§4.4.1 "Retry
// policy"). It always releases exactly the permit its caller acquired
// before spawning — runDispatcher for attempt 1, scheduleRetry for later
// attempts.
func (m *Manager) attemptRun(rt *runtime, worker types.Worker, run *types.Run) {
	defer rt.sem.Release(1)

	wlog := log.WithRunID(run.ID)

	logDir, err := m.logs.WorkerDir(worker.ID)
	if err != nil {
		m.handleRunOutcome(rt, worker, run, -1, err.Error())
		return
	}

	handle, err := process.Spawn(run.ID, run.Command, run.Args, worker.Env, logDir, worker.InstancePath)
	if err != nil {
		wlog.Warn().Err(err).Msg("dispatch: spawn failed")
		m.handleRunOutcome(rt, worker, run, -1, err.Error())
		return
	}

	pid := handle.PID
	startedAt := time.Now().UTC()
	run.Status = types.RunRunning
	run.PID = &pid
	run.StartedAt = &startedAt
	run.LogPath = process.LogPath(run.ID, logDir)
	run.UpdatedAt = startedAt
	if err := m.store.UpdateRun(run); err != nil {
		wlog.Error().Err(err).Msg("dispatch: persist run start")
	}

	rt.mu.Lock()
	rt.handles[run.ID] = handle
	rt.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncRunStarted()
	}

	exitCode, waitErr := handle.Wait()

	rt.mu.Lock()
	delete(rt.handles, run.ID)
	canceled := rt.canceled
	rt.mu.Unlock()

	// A process this supervisor killed via SIGKILL/TerminateProcess exits
	// via signal, which os/exec reports as ExitCode()==-1 with no wait
	// error (killing is not itself a supervisor failure). Treat that
	// combination, while this worker's cancel signal is set, as the
	// group-kill outcome spec.md §4.6 calls Cancelled rather than Failed.
	if canceled && waitErr == nil && exitCode == -1 {
		m.cancelRun(run, exitCode)
		return
	}

	if waitErr != nil {
		m.handleRunOutcome(rt, worker, run, exitCode, waitErr.Error())
		return
	}
	if exitCode != 0 {
		m.handleRunOutcome(rt, worker, run, exitCode, "")
		return
	}

	m.completeRun(run, exitCode)
}

func (m *Manager) cancelRun(run *types.Run, exitCode int) {
	now := time.Now().UTC()
	code := exitCode
	run.Status = types.RunCancelled
	run.ExitCode = &code
	run.CompletedAt = &now
	run.UpdatedAt = now
	if err := m.store.UpdateRun(run); err != nil {
		log.WithRunID(run.ID).Error().Err(err).Msg("dispatch: persist run cancellation")
	}
	if m.metrics != nil {
		m.metrics.IncRunCancelled()
		if run.StartedAt != nil {
			m.metrics.ObserveRunDuration(now.Sub(*run.StartedAt))
		}
	}
}

func (m *Manager) completeRun(run *types.Run, exitCode int) {
	now := time.Now().UTC()
	code := exitCode
	run.Status = types.RunCompleted
	run.ExitCode = &code
	run.CompletedAt = &now
	run.UpdatedAt = now
	if err := m.store.UpdateRun(run); err != nil {
		log.WithRunID(run.ID).Error().Err(err).Msg("dispatch: persist run completion")
	}
	if m.metrics != nil && run.StartedAt != nil {
		m.metrics.ObserveRunDuration(now.Sub(*run.StartedAt))
	}
}

// handleRunOutcome marks run Failed and, if attempts remain, persists a
// new Pending Run row for the next attempt and schedules it after the
// computed backoff delay.
func (m *Manager) handleRunOutcome(rt *runtime, worker types.Worker, run *types.Run, exitCode int, errMsg string) {
	now := time.Now().UTC()

	run.Status = types.RunFailed
	if exitCode >= 0 {
		code := exitCode
		run.ExitCode = &code
	}
	run.ErrorMessage = errMsg
	run.CompletedAt = &now
	run.UpdatedAt = now
	if err := m.store.UpdateRun(run); err != nil {
		log.WithRunID(run.ID).Error().Err(err).Msg("dispatch: persist run failure")
	}
	if m.metrics != nil && run.StartedAt != nil {
		m.metrics.ObserveRunDuration(now.Sub(*run.StartedAt))
	}

	if run.Attempt >= run.MaxAttempts {
		return
	}

	delay := backoff(m.cfg.Backoff, run.Attempt)
	nextRetryAt := now.Add(delay)

	next := &types.Run{
		WorkerID:    run.WorkerID,
		EventID:     run.EventID,
		EventType:   run.EventType,
		EntityID:    run.EntityID,
		Command:     run.Command,
		Args:        run.Args,
		Status:      types.RunPending,
		Attempt:     run.Attempt + 1,
		MaxAttempts: run.MaxAttempts,
		NextRetryAt: &nextRetryAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateRun(next); err != nil {
		log.WithRunID(run.ID).Error().Err(err).Msg("dispatch: persist retry run")
		return
	}
	if m.metrics != nil {
		m.metrics.IncRunRetried()
	}

	go m.scheduleRetry(rt, worker, next, delay)
}

// scheduleRetry waits out the backoff delay (interruptible by the
// worker's cancel signal), then re-admits the retry under the
// concurrency semaphore exactly as the initial attempt was.
func (m *Manager) scheduleRetry(rt *runtime, worker types.Worker, run *types.Run, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-rt.cancel:
		return
	case <-timer.C:
	}

	ctx, cancelAcquire := ctxFromCancel(rt.cancel)
	err := rt.sem.Acquire(ctx, 1)
	cancelAcquire()
	if err != nil {
		return
	}

	m.attemptRun(rt, worker, run)
}
