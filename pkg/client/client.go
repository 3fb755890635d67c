// Package client is the CLI-facing counterpart to pkg/ipc/pkg/server: a
// thin wrapper around one authenticated connection to the daemon, plus a
// typed method per Operation (§4.3). Grounded on
// original_source/src/daemon/client.rs's request/response round-trip
// shape, translated from async Rust's single "send and await the next
// frame" connection into a mutex-serialized net.Conn — the protocol
// guarantees one request in flight per connection (§5: "Responses on a
// single connection are in request order"), so a single mutex is the
// correct and sufficient concurrency primitive here.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/cuemby/granary/pkg/types"
)

// Client holds one authenticated connection to the daemon.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
}

// Connect dials endpoint (a Unix socket path or, on Windows, a named pipe
// name), performs the mandatory Auth handshake (§4.2), and returns a ready
// Client.
func Connect(ctx context.Context, endpoint, token string) (*Client, error) {
	conn, err := ipc.Dial(ctx, endpoint)
	if err != nil {
		return nil, granaryerr.Wrap(granaryerr.Internal, "connect to daemon", err)
	}

	c := &Client{conn: conn}
	if _, err := c.Call(ipc.NewAuth(token)); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends op and returns the matching Response, converting a non-OK
// Response into a *granaryerr.Error carrying the daemon's reported kind
// (§6/§7 — the caller maps this to a process exit code via
// granaryerr.KindOf(err).ExitCode()).
func (c *Client) Call(op ipc.Operation) (ipc.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := atomic.AddUint64(&c.nextID, 1)
	if err := ipc.WriteRequest(c.conn, ipc.Request{ID: id, Op: op}); err != nil {
		return ipc.Response{}, granaryerr.Wrap(granaryerr.Internal, "write request", err)
	}
	resp, err := ipc.ReadResponse(c.conn)
	if err != nil {
		return ipc.Response{}, granaryerr.Wrap(granaryerr.Internal, "read response", err)
	}
	if !resp.OK {
		kind := granaryerr.Kind(resp.Kind)
		if kind == "" {
			kind = granaryerr.Internal
		}
		return resp, &granaryerr.Error{Kind: kind, Msg: resp.Error}
	}
	return resp, nil
}

// Ping returns the daemon's version and status.
func (c *Client) Ping() (ipc.PingResponse, error) {
	resp, err := c.Call(ipc.NewPing())
	if err != nil {
		return ipc.PingResponse{}, err
	}
	var out ipc.PingResponse
	err = resp.DecodeBody(&out)
	return out, err
}

// Shutdown asks the daemon to begin orderly shutdown.
func (c *Client) Shutdown() error {
	_, err := c.Call(ipc.NewShutdown())
	return err
}

// StartWorker creates and starts a worker.
func (c *Client) StartWorker(req ipc.StartWorkerRequest) (*types.Worker, error) {
	resp, err := c.Call(ipc.NewStartWorker(req))
	if err != nil {
		return nil, err
	}
	var w types.Worker
	if err := resp.DecodeBody(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// StopWorker transitions a worker to Stopped, optionally killing its
// in-flight runs.
func (c *Client) StopWorker(workerID string, stopRuns bool) (*types.Worker, error) {
	resp, err := c.Call(ipc.NewStopWorker(ipc.StopWorkerRequest{WorkerID: workerID, StopRuns: stopRuns}))
	if err != nil {
		return nil, err
	}
	var w types.Worker
	if err := resp.DecodeBody(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorker returns one worker's record.
func (c *Client) GetWorker(workerID string) (*types.Worker, error) {
	resp, err := c.Call(ipc.NewGetWorker(workerID))
	if err != nil {
		return nil, err
	}
	var w types.Worker
	if err := resp.DecodeBody(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns every worker, or only non-Stopped ones when all is
// false.
func (c *Client) ListWorkers(all bool) ([]*types.Worker, error) {
	resp, err := c.Call(ipc.NewListWorkers(all))
	if err != nil {
		return nil, err
	}
	var workers []*types.Worker
	if err := resp.DecodeBody(&workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// PruneWorkers removes Stopped/Error workers and returns the count removed.
func (c *Client) PruneWorkers() (int, error) {
	resp, err := c.Call(ipc.NewPruneWorkers())
	if err != nil {
		return 0, err
	}
	var out ipc.PruneWorkersResponse
	if err := resp.DecodeBody(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// WorkerLogs returns a worker's supervisor-level log tail.
func (c *Client) WorkerLogs(workerID string, follow bool, lines int) (types.LogsResponse, error) {
	return c.decodeLogs(ipc.NewWorkerLogs(workerID, follow, lines))
}

// GetRun returns one run's record.
func (c *Client) GetRun(runID string) (*types.Run, error) {
	resp, err := c.Call(ipc.NewGetRun(runID))
	if err != nil {
		return nil, err
	}
	var r types.Run
	if err := resp.DecodeBody(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs for workerID (all workers if empty), optionally
// filtered by status.
func (c *Client) ListRuns(workerID, status string, all bool) ([]*types.Run, error) {
	resp, err := c.Call(ipc.NewListRuns(ipc.ListRunsRequest{WorkerID: workerID, Status: status, All: all}))
	if err != nil {
		return nil, err
	}
	var runs []*types.Run
	if err := resp.DecodeBody(&runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// StopRun kills a run's in-flight process.
func (c *Client) StopRun(runID string) (*types.Run, error) {
	return c.decodeRun(ipc.NewStopRun(runID))
}

// PauseRun suspends a run's process group.
func (c *Client) PauseRun(runID string) (*types.Run, error) {
	return c.decodeRun(ipc.NewPauseRun(runID))
}

// ResumeRun reverses PauseRun.
func (c *Client) ResumeRun(runID string) (*types.Run, error) {
	return c.decodeRun(ipc.NewResumeRun(runID))
}

func (c *Client) decodeRun(op ipc.Operation) (*types.Run, error) {
	resp, err := c.Call(op)
	if err != nil {
		return nil, err
	}
	var r types.Run
	if err := resp.DecodeBody(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RunLogs returns a run's combined stdout/stderr log tail.
func (c *Client) RunLogs(runID string, follow bool, lines int) (types.LogsResponse, error) {
	return c.decodeLogs(ipc.NewRunLogs(runID, follow, lines))
}

// GetLogs performs an offset-based tail against either a worker or run
// log, per the follow protocol of §4.5.
func (c *Client) GetLogs(req ipc.LogsRequest) (types.LogsResponse, error) {
	return c.decodeLogs(ipc.NewGetLogs(req))
}

func (c *Client) decodeLogs(op ipc.Operation) (types.LogsResponse, error) {
	resp, err := c.Call(op)
	if err != nil {
		return types.LogsResponse{}, err
	}
	var out types.LogsResponse
	err = resp.DecodeBody(&out)
	return out, err
}

// PublishEvent appends an event and returns its server-assigned id.
func (c *Client) PublishEvent(req ipc.PublishEventRequest) (int64, error) {
	resp, err := c.Call(ipc.NewPublishEvent(req))
	if err != nil {
		return 0, err
	}
	var out ipc.PublishEventResponse
	if err := resp.DecodeBody(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}
