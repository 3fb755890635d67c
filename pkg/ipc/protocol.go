package ipc

import (
	"encoding/json"
	"fmt"
)

// OpType names an Operation variant. The wire representation is the
// `{"type": ..., "data": ...}` tagged-enum shape of the protocol this was
// distilled from.
type OpType string

const (
	OpAuth         OpType = "Auth"
	OpPing         OpType = "Ping"
	OpShutdown     OpType = "Shutdown"
	OpStartWorker  OpType = "StartWorker"
	OpStopWorker   OpType = "StopWorker"
	OpGetWorker    OpType = "GetWorker"
	OpListWorkers  OpType = "ListWorkers"
	OpPruneWorkers OpType = "PruneWorkers"
	OpWorkerLogs   OpType = "WorkerLogs"
	OpGetRun       OpType = "GetRun"
	OpListRuns     OpType = "ListRuns"
	OpStopRun      OpType = "StopRun"
	OpPauseRun     OpType = "PauseRun"
	OpResumeRun    OpType = "ResumeRun"
	OpRunLogs      OpType = "RunLogs"
	OpGetLogs      OpType = "GetLogs"
	OpPublishEvent OpType = "PublishEvent"
)

// Operation is the tagged union of daemon operations. Data carries the
// variant's payload (nil for unit variants like Ping/Shutdown/PruneWorkers).
type Operation struct {
	Type OpType          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals op.Data into v. Callers know which concrete type to
// pass from op.Type.
func (op Operation) Decode(v any) error {
	if len(op.Data) == 0 {
		return nil
	}
	return json.Unmarshal(op.Data, v)
}

func newOp(t OpType, payload any) Operation {
	if payload == nil {
		return Operation{Type: t}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// payload types here are all plain structs of marshalable fields;
		// a marshal failure would be a programmer error, not a runtime one.
		panic(fmt.Sprintf("ipc: marshal %s payload: %v", t, err))
	}
	return Operation{Type: t, Data: data}
}

// AuthRequest is Operation Auth's payload — must be the first message on
// every connection (§4.2).
type AuthRequest struct {
	Token string `json:"token"`
}

func NewAuth(token string) Operation { return newOp(OpAuth, AuthRequest{Token: token}) }

// StartWorkerRequest is Operation StartWorker's payload.
type StartWorkerRequest struct {
	RunnerName   string   `json:"runner_name,omitempty"`
	Command      string   `json:"command"`
	Args         []string `json:"args"`
	Env          []string `json:"env,omitempty"`
	EventType    string   `json:"event_type"`
	Filters      []string `json:"filters"`
	Concurrency  int      `json:"concurrency"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
	InstancePath string   `json:"instance_path"`
	Since        string   `json:"since,omitempty"`
}

func NewStartWorker(req StartWorkerRequest) Operation { return newOp(OpStartWorker, req) }

// StopWorkerRequest is Operation StopWorker's payload.
type StopWorkerRequest struct {
	WorkerID string `json:"worker_id"`
	StopRuns bool   `json:"stop_runs"`
}

func NewStopWorker(req StopWorkerRequest) Operation { return newOp(OpStopWorker, req) }

type WorkerIDRequest struct {
	WorkerID string `json:"worker_id"`
}

func NewGetWorker(workerID string) Operation {
	return newOp(OpGetWorker, WorkerIDRequest{WorkerID: workerID})
}

type ListWorkersRequest struct {
	All bool `json:"all"`
}

func NewListWorkers(all bool) Operation { return newOp(OpListWorkers, ListWorkersRequest{All: all}) }

func NewPruneWorkers() Operation { return newOp(OpPruneWorkers, nil) }

type LogsTargetRequest struct {
	WorkerID string `json:"worker_id"`
	Follow   bool   `json:"follow"`
	Lines    int    `json:"lines"`
}

func NewWorkerLogs(workerID string, follow bool, lines int) Operation {
	return newOp(OpWorkerLogs, LogsTargetRequest{WorkerID: workerID, Follow: follow, Lines: lines})
}

type RunIDRequest struct {
	RunID string `json:"run_id"`
}

func NewGetRun(runID string) Operation { return newOp(OpGetRun, RunIDRequest{RunID: runID}) }
func NewStopRun(runID string) Operation { return newOp(OpStopRun, RunIDRequest{RunID: runID}) }
func NewPauseRun(runID string) Operation { return newOp(OpPauseRun, RunIDRequest{RunID: runID}) }
func NewResumeRun(runID string) Operation { return newOp(OpResumeRun, RunIDRequest{RunID: runID}) }

type ListRunsRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
	Status   string `json:"status,omitempty"`
	All      bool   `json:"all"`
}

func NewListRuns(req ListRunsRequest) Operation { return newOp(OpListRuns, req) }

type RunLogsRequest struct {
	RunID  string `json:"run_id"`
	Follow bool   `json:"follow"`
	Lines  int    `json:"lines"`
}

func NewRunLogs(runID string, follow bool, lines int) Operation {
	return newOp(OpRunLogs, RunLogsRequest{RunID: runID, Follow: follow, Lines: lines})
}

// LogTarget distinguishes worker logs from run logs in a GetLogs request.
type LogTarget string

const (
	LogTargetWorker LogTarget = "Worker"
	LogTargetRun    LogTarget = "Run"
)

// LogsRequest is Operation GetLogs's payload — offset-based tail (§4.5).
type LogsRequest struct {
	TargetID   string    `json:"target_id"`
	TargetType LogTarget `json:"target_type"`
	SinceLine  uint64    `json:"since_line"`
	Limit      uint64    `json:"limit"`
}

func NewGetLogs(req LogsRequest) Operation { return newOp(OpGetLogs, req) }

// PublishEventRequest is Operation PublishEvent's payload — the daemon's
// narrow write interface for the external domain collaborator to append an
// Event (§3/§4.8; not a core IPC operation in the distilled table, but
// required for the append side of the contract it describes).
type PublishEventRequest struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

func NewPublishEvent(req PublishEventRequest) Operation { return newOp(OpPublishEvent, req) }

// PublishEventResponse carries the server-assigned event id.
type PublishEventResponse struct {
	ID int64 `json:"id"`
}

func NewPing() Operation     { return newOp(OpPing, nil) }
func NewShutdown() Operation { return newOp(OpShutdown, nil) }

// PingResponse is Operation Ping's reply body.
type PingResponse struct {
	Version string `json:"version"`
	Status  string `json:"status"`
}

// PruneWorkersResponse is Operation PruneWorkers's reply body.
type PruneWorkersResponse struct {
	Count int `json:"count"`
}

// Request is the envelope sent from client to daemon.
type Request struct {
	ID uint64    `json:"id"`
	Op Operation `json:"op"`
}

// Response is the envelope sent from daemon to client; ID echoes the
// originating Request. Kind, when set, is one of granaryerr's five error
// kinds (carried as its string value so pkg/ipc need not import
// pkg/granaryerr) — the client maps it to a process exit code (§6/§7).
type Response struct {
	ID    uint64          `json:"id"`
	OK    bool            `json:"ok"`
	Body  json.RawMessage `json:"body,omitempty"`
	Error string          `json:"error,omitempty"`
	Kind  string          `json:"kind,omitempty"`
}

// OKResponse builds a successful Response carrying body (marshaled to JSON).
func OKResponse(id uint64, body any) Response {
	if body == nil {
		return Response{ID: id, OK: true}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ErrResponseKind(id, "Internal", fmt.Sprintf("marshal response body: %v", err))
	}
	return Response{ID: id, OK: true, Body: data}
}

// ErrResponse builds a failure Response carrying a human-readable message
// with no particular kind (framing/auth failures, not handler errors).
func ErrResponse(id uint64, msg string) Response {
	return Response{ID: id, OK: false, Error: msg}
}

// ErrResponseKind builds a failure Response carrying both a message and an
// error kind.
func ErrResponseKind(id uint64, kind, msg string) Response {
	return Response{ID: id, OK: false, Error: msg, Kind: kind}
}

// DecodeBody unmarshals r.Body into v.
func (r Response) DecodeBody(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// WriteRequest marshals and frames req onto w.
func WriteRequest(w interface{ Write([]byte) (int, error) }, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadRequest reads and unmarshals one Request from r.
func ReadRequest(r interface{ Read([]byte) (int, error) }) (Request, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	err = json.Unmarshal(data, &req)
	return req, err
}

// WriteResponse marshals and frames resp onto w.
func WriteResponse(w interface{ Write([]byte) (int, error) }, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadResponse reads and unmarshals one Response from r.
func ReadResponse(r interface{ Read([]byte) (int, error) }) (Response, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	err = json.Unmarshal(data, &resp)
	return resp, err
}
