package models

import "time"

// WorkerStatus represents the lifecycle state of a spawned worker.
type WorkerStatus string

const (
	// WorkerRunning indicates the worker is executing.
	WorkerRunning WorkerStatus = "running"
	// WorkerAwaitingContinuation indicates the worker finished a round and
	// is waiting for a continuation or close.
	WorkerAwaitingContinuation WorkerStatus = "awaiting_continuation"
	// WorkerClosed indicates the worker was closed. Terminal.
	WorkerClosed WorkerStatus = "closed"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerRunning, WorkerAwaitingContinuation, WorkerClosed:
		return true
	default:
		return false
	}
}

// Worker is the persisted record of one spawned worker.
// Workers are ephemeral: at most one active task, and every spawn is
// eventually closed.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// SessionID is the session the worker belongs to.
	SessionID string `json:"session_id,omitempty"`
	// TaskID is the task the worker is executing.
	TaskID string `json:"task_id"`
	// Role is the role configuration the worker was spawned with.
	Role string `json:"role"`
	// PID is the operating system process ID, or 0 for in-process workers.
	PID int `json:"pid,omitempty"`
	// Status is the current lifecycle state.
	Status WorkerStatus `json:"status"`
	// SpawnedAt is when the worker was spawned.
	SpawnedAt time.Time `json:"spawned_at"`
	// ClosedAt is when the worker was closed, if it has been.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}
