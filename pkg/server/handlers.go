package server

import (
	"context"
	"fmt"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/types"
	"github.com/cuemby/granary/pkg/version"
)

// handle routes one decoded Request to its operation and converts the
// result (or error) into a Response, recovering from any panic inside the
// handler so one bad request cannot take down the connection's goroutine,
// let alone the daemon (§4.3's "handlers are one-shot and synchronous").
func (s *Server) handle(ctx context.Context, req ipc.Request) (resp ipc.Response, shutdown bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithOp(string(req.Op.Type)).Error().Interface("panic", r).Msg("handler panic")
			resp = ipc.ErrResponseKind(req.ID, string(granaryerr.Internal), fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch req.Op.Type {
	case ipc.OpPing:
		return ipc.OKResponse(req.ID, ipc.PingResponse{Version: version.Version, Status: "running"}), false

	case ipc.OpShutdown:
		return ipc.OKResponse(req.ID, nil), true

	case ipc.OpStartWorker:
		var payload ipc.StartWorkerRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		w, err := s.manager.StartWorker(types.StartWorkerSpec{
			RunnerName:   payload.RunnerName,
			Command:      payload.Command,
			Args:         payload.Args,
			Env:          payload.Env,
			EventType:    payload.EventType,
			Filters:      payload.Filters,
			Concurrency:  payload.Concurrency,
			MaxAttempts:  payload.MaxAttempts,
			InstancePath: payload.InstancePath,
		})
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, w), false

	case ipc.OpStopWorker:
		var payload ipc.StopWorkerRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		w, err := s.manager.StopWorker(payload.WorkerID, payload.StopRuns)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, w), false

	case ipc.OpGetWorker:
		var payload ipc.WorkerIDRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		w, err := s.manager.GetWorker(payload.WorkerID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, w), false

	case ipc.OpListWorkers:
		var payload ipc.ListWorkersRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		workers, err := s.manager.ListWorkers(payload.All)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, workers), false

	case ipc.OpPruneWorkers:
		count, err := s.manager.PruneWorkers()
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, ipc.PruneWorkersResponse{Count: count}), false

	case ipc.OpWorkerLogs:
		var payload ipc.LogsTargetRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		w, err := s.manager.GetWorker(payload.WorkerID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		path := s.logs.WorkerLogPath(payload.WorkerID)
		lines, err := logstore.ReadTail(path, nonZero(payload.Lines, 100))
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, types.LogsResponse{
			Lines:   lines,
			HasMore: w.Status == types.WorkerRunning,
			LogPath: path,
		}), false

	case ipc.OpGetRun:
		var payload ipc.RunIDRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		r, err := s.manager.GetRun(payload.RunID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, r), false

	case ipc.OpListRuns:
		var payload ipc.ListRunsRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		runs, err := s.manager.ListRuns(payload.WorkerID, types.RunStatus(payload.Status), payload.All)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, runs), false

	case ipc.OpStopRun:
		var payload ipc.RunIDRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		r, err := s.manager.StopRun(payload.RunID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, r), false

	case ipc.OpPauseRun:
		var payload ipc.RunIDRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		r, err := s.manager.PauseRun(payload.RunID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, r), false

	case ipc.OpResumeRun:
		var payload ipc.RunIDRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		r, err := s.manager.ResumeRun(payload.RunID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, r), false

	case ipc.OpRunLogs:
		var payload ipc.RunLogsRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		r, err := s.manager.GetRun(payload.RunID)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		path := r.LogPath
		if path == "" {
			path = s.logs.RunLogPath(r.WorkerID, r.ID)
		}
		lines, err := logstore.ReadTail(path, nonZero(payload.Lines, 100))
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, types.LogsResponse{
			Lines:   lines,
			HasMore: !r.Status.IsTerminal(),
			LogPath: path,
		}), false

	case ipc.OpGetLogs:
		var payload ipc.LogsRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		resp, err := s.tailLogs(payload)
		if err != nil {
			return s.errResponse(req.ID, err), false
		}
		return ipc.OKResponse(req.ID, resp), false

	case ipc.OpPublishEvent:
		var payload ipc.PublishEventRequest
		if err := req.Op.Decode(&payload); err != nil {
			return s.badRequest(req.ID, err), false
		}
		if payload.EventType == "" {
			return s.errResponse(req.ID, granaryerr.New(granaryerr.UserInput, "event_type is required")), false
		}
		ev := &types.Event{
			EventType:  payload.EventType,
			EntityType: payload.EntityType,
			EntityID:   payload.EntityID,
			Actor:      payload.Actor,
			SessionID:  payload.SessionID,
			Payload:    payload.Payload,
		}
		id, err := s.store.AppendEvent(ev)
		if err != nil {
			return s.errResponse(req.ID, granaryerr.Wrap(granaryerr.Internal, "append event", err)), false
		}
		s.broker.Notify()
		return ipc.OKResponse(req.ID, ipc.PublishEventResponse{ID: id}), false

	default:
		return s.errResponse(req.ID, granaryerr.Newf(granaryerr.UserInput, "unknown operation %q", req.Op.Type)), false
	}
}

// tailLogs resolves target_id/target_type into a path and liveness flag,
// then delegates to logstore.Tail's offset-based protocol (§4.5).
func (s *Server) tailLogs(payload ipc.LogsRequest) (types.LogsResponse, error) {
	var path string
	var active bool

	switch payload.TargetType {
	case ipc.LogTargetWorker:
		w, err := s.manager.GetWorker(payload.TargetID)
		if err != nil {
			return types.LogsResponse{}, err
		}
		path = s.logs.WorkerLogPath(payload.TargetID)
		active = w.Status == types.WorkerRunning
	case ipc.LogTargetRun:
		r, err := s.manager.GetRun(payload.TargetID)
		if err != nil {
			return types.LogsResponse{}, err
		}
		path = r.LogPath
		if path == "" {
			path = s.logs.RunLogPath(r.WorkerID, r.ID)
		}
		active = !r.Status.IsTerminal()
	default:
		return types.LogsResponse{}, granaryerr.Newf(granaryerr.UserInput, "unknown log target type %q", payload.TargetType)
	}

	limit := int(payload.Limit)
	if limit <= 0 {
		limit = 100
	}
	return logstore.Tail(path, int(payload.SinceLine), limit, active)
}

// badRequest wraps a payload-decode failure as a UserInput error response.
func (s *Server) badRequest(id uint64, err error) ipc.Response {
	return ipc.ErrResponseKind(id, string(granaryerr.UserInput), fmt.Sprintf("invalid request payload: %v", err))
}

// errResponse maps a handler error to its kind-carrying Response, per
// granaryerr's doc comment: "the request dispatcher maps it to a
// Response.error string and the client maps it to a process exit code".
func (s *Server) errResponse(id uint64, err error) ipc.Response {
	return ipc.ErrResponseKind(id, string(granaryerr.KindOf(err)), err.Error())
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
