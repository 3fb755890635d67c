// Package types holds the daemon's core data model: workers, runs, events,
// and the small value types shared across the IPC, dispatch, and storage
// layers.
package types

import "time"

// WorkerStatus is the lifecycle state of a Worker.
type WorkerStatus string

const (
	WorkerPending WorkerStatus = "Pending"
	WorkerRunning WorkerStatus = "Running"
	WorkerStopped WorkerStatus = "Stopped"
	WorkerError   WorkerStatus = "Error"
)

// Worker is a supervisor subscription to an event type: it watches for
// events matching event_type+filters and spawns a Run per match, up to
// concurrency in-flight runs.
type Worker struct {
	ID           string       `json:"id"`
	RunnerName   string       `json:"runner_name,omitempty"`
	Command      string       `json:"command"`
	Args         []string     `json:"args"`
	Env          []string     `json:"env,omitempty"`
	EventType    string       `json:"event_type"`
	Filters      []string     `json:"filters"`
	Concurrency  int          `json:"concurrency"`
	MaxAttempts  int          `json:"max_attempts"`
	InstancePath string       `json:"instance_path"`
	Status       WorkerStatus `json:"status"`
	PID          *int         `json:"pid,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	StoppedAt    *time.Time   `json:"stopped_at,omitempty"`
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPending   RunStatus = "Pending"
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
	RunPaused    RunStatus = "Paused"
	RunCancelled RunStatus = "Cancelled"
)

// IsTerminal reports whether s is a sink state of the Run state machine.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution attempt of a Worker's command, triggered by one Event.
type Run struct {
	ID           string     `json:"id"`
	WorkerID     string     `json:"worker_id"`
	EventID      int64      `json:"event_id"`
	EventType    string     `json:"event_type"`
	EntityID     string     `json:"entity_id,omitempty"`
	Command      string     `json:"command"`
	Args         []string   `json:"args"`
	Status       RunStatus  `json:"status"`
	PID          *int       `json:"pid,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempt      int        `json:"attempt"`
	MaxAttempts  int        `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	LogPath      string     `json:"log_path,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Event is an immutable, id-ordered observation the dispatcher consumes.
type Event struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WorkspaceMode identifies which precedence rule resolved a Workspace.
type WorkspaceMode string

const (
	WorkspaceOverrideHome WorkspaceMode = "OverrideHome"
	WorkspaceLocal        WorkspaceMode = "Local"
	WorkspaceNamed        WorkspaceMode = "Named"
	WorkspaceDefault      WorkspaceMode = "Default"
)

// Workspace is a resolved (name, mode, database path) triple.
type Workspace struct {
	Name         string        `json:"name"`
	Mode         WorkspaceMode `json:"mode"`
	DatabasePath string        `json:"database_path"`
}

// StartWorkerSpec is the payload of a StartWorker request.
type StartWorkerSpec struct {
	RunnerName   string   `json:"runner_name,omitempty"`
	Command      string   `json:"command,omitempty"`
	Args         []string `json:"args,omitempty"`
	Env          []string `json:"env,omitempty"`
	EventType    string   `json:"event_type"`
	Filters      []string `json:"filters,omitempty"`
	Concurrency  int      `json:"concurrency"`
	MaxAttempts  int      `json:"max_attempts,omitempty"`
	InstancePath string   `json:"instance_path"`
}

// LogsResponse is the tail result for a worker or run log (§4.5).
type LogsResponse struct {
	Lines    []string `json:"lines"`
	NextLine int      `json:"next_line"`
	HasMore  bool     `json:"has_more"`
	LogPath  string   `json:"log_path"`
}

// TargetType distinguishes worker logs from run logs.
type TargetType string

const (
	TargetWorker TargetType = "worker"
	TargetRun    TargetType = "run"
)
