package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/dispatch"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/cuemby/granary/pkg/logstore"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires a Server around a throwaway store without going
// through New (which reads the real user config/token files from disk).
func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBoltStore(filepath.Join(dir, "granary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	logs := logstore.New(filepath.Join(dir, "logs"))
	cfg := config.Default()
	reg := metrics.NewRegistry()

	return &Server{
		cfg:     cfg,
		store:   store,
		broker:  broker,
		logs:    logs,
		manager: dispatch.NewManager(store, broker, logs, cfg, reg),
		metrics: reg,
	}
}

func call(s *Server, op ipc.Operation) ipc.Response {
	resp, _ := s.handle(context.Background(), ipc.Request{ID: 1, Op: op})
	return resp
}

func TestHandlePing(t *testing.T) {
	s := newTestServer(t)
	resp := call(s, ipc.NewPing())
	assert.True(t, resp.OK)

	var body ipc.PingResponse
	require.NoError(t, resp.DecodeBody(&body))
	assert.Equal(t, "running", body.Status)
}

func TestHandleShutdownSignalsTrue(t *testing.T) {
	s := newTestServer(t)
	resp, shutdown := s.handle(context.Background(), ipc.Request{ID: 1, Op: ipc.NewShutdown()})
	assert.True(t, resp.OK)
	assert.True(t, shutdown)
}

func TestHandleStartStopWorker(t *testing.T) {
	s := newTestServer(t)

	resp := call(s, ipc.NewStartWorker(ipc.StartWorkerRequest{
		Command:     "true",
		EventType:   "deploy",
		Concurrency: 1,
		MaxAttempts: 1,
	}))
	require.True(t, resp.OK)

	var w types.Worker
	require.NoError(t, resp.DecodeBody(&w))
	assert.Equal(t, types.WorkerRunning, w.Status)

	stopResp := call(s, ipc.NewStopWorker(ipc.StopWorkerRequest{WorkerID: w.ID, StopRuns: false}))
	require.True(t, stopResp.OK)

	var stopped types.Worker
	require.NoError(t, stopResp.DecodeBody(&stopped))
	assert.Equal(t, types.WorkerStopped, stopped.Status)
}

func TestHandleStartWorkerValidationError(t *testing.T) {
	s := newTestServer(t)

	resp := call(s, ipc.NewStartWorker(ipc.StartWorkerRequest{EventType: "deploy"}))
	assert.False(t, resp.OK)
	assert.Equal(t, "UserInput", resp.Kind)
}

func TestHandleGetWorkerNotFound(t *testing.T) {
	s := newTestServer(t)

	resp := call(s, ipc.NewGetWorker("does-not-exist"))
	assert.False(t, resp.OK)
	assert.Equal(t, "NotFound", resp.Kind)
}

func TestHandleListWorkers(t *testing.T) {
	s := newTestServer(t)

	startResp := call(s, ipc.NewStartWorker(ipc.StartWorkerRequest{
		Command: "true", EventType: "deploy", Concurrency: 1, MaxAttempts: 1,
	}))
	require.True(t, startResp.OK)
	var w types.Worker
	require.NoError(t, startResp.DecodeBody(&w))

	listResp := call(s, ipc.NewListWorkers(true))
	require.True(t, listResp.OK)
	var workers []*types.Worker
	require.NoError(t, listResp.DecodeBody(&workers))
	assert.Len(t, workers, 1)

	_ = call(s, ipc.NewStopWorker(ipc.StopWorkerRequest{WorkerID: w.ID}))
}

func TestHandlePruneWorkers(t *testing.T) {
	s := newTestServer(t)

	startResp := call(s, ipc.NewStartWorker(ipc.StartWorkerRequest{
		Command: "true", EventType: "deploy", Concurrency: 1, MaxAttempts: 1,
	}))
	require.True(t, startResp.OK)
	var w types.Worker
	require.NoError(t, startResp.DecodeBody(&w))

	stopResp := call(s, ipc.NewStopWorker(ipc.StopWorkerRequest{WorkerID: w.ID}))
	require.True(t, stopResp.OK)

	pruneResp := call(s, ipc.Operation{Type: ipc.OpPruneWorkers})
	require.True(t, pruneResp.OK)
	var pruned ipc.PruneWorkersResponse
	require.NoError(t, pruneResp.DecodeBody(&pruned))
	assert.Equal(t, 1, pruned.Count)
}

func TestHandlePublishEventRequiresType(t *testing.T) {
	s := newTestServer(t)

	resp := call(s, ipc.NewPublishEvent(ipc.PublishEventRequest{Payload: map[string]any{}}))
	assert.False(t, resp.OK)
	assert.Equal(t, "UserInput", resp.Kind)
}

func TestHandlePublishEventAssignsMonotonicID(t *testing.T) {
	s := newTestServer(t)

	first := call(s, ipc.NewPublishEvent(ipc.PublishEventRequest{EventType: "deploy", Payload: map[string]any{}}))
	require.True(t, first.OK)
	var firstBody ipc.PublishEventResponse
	require.NoError(t, first.DecodeBody(&firstBody))

	second := call(s, ipc.NewPublishEvent(ipc.PublishEventRequest{EventType: "deploy", Payload: map[string]any{}}))
	require.True(t, second.OK)
	var secondBody ipc.PublishEventResponse
	require.NoError(t, second.DecodeBody(&secondBody))

	assert.Greater(t, secondBody.ID, firstBody.ID)
}

func TestHandleUnknownOperation(t *testing.T) {
	s := newTestServer(t)

	resp := call(s, ipc.Operation{Type: ipc.OpType("nonsense")})
	assert.False(t, resp.OK)
	assert.Equal(t, "UserInput", resp.Kind)
}

func TestHandleGetWorkerAgainstClosedStoreReturnsError(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.store.Close())

	resp := call(s, ipc.NewGetWorker("anything"))
	assert.False(t, resp.OK)
}
