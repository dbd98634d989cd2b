package models

import "time"

// SessionStatus represents the status of an orchestration session.
type SessionStatus string

const (
	// SessionInitializing indicates the task chain is being planned.
	SessionInitializing SessionStatus = "initializing"
	// SessionActive indicates the session is dispatching work.
	SessionActive SessionStatus = "active"
	// SessionPaused indicates the session is held at a checkpoint or
	// escalation and needs external confirmation to continue.
	SessionPaused SessionStatus = "paused"
	// SessionCompleted indicates every task reached a terminal status.
	SessionCompleted SessionStatus = "completed"
	// SessionAborted indicates the session was stopped externally.
	SessionAborted SessionStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInitializing, SessionActive, SessionPaused, SessionCompleted, SessionAborted:
		return true
	default:
		return false
	}
}

// ActiveWorker records one live worker declared by the session.
// It is the persisted view used for crash recovery and resume.
type ActiveWorker struct {
	// WorkerID is the handle ID of the spawned worker.
	WorkerID string `json:"worker_id"`
	// TaskID is the task the worker is executing.
	TaskID string `json:"task_id"`
	// Role is the worker's role.
	Role string `json:"role"`
	// PID is the operating system process ID, if the worker is a subprocess.
	PID int `json:"pid,omitempty"`
	// SpawnedAt is when the worker was spawned.
	SpawnedAt time.Time `json:"spawned_at"`
}

// Session represents one durable orchestration run.
// It is updated after every state transition and read back to reconcile
// after interruption.
type Session struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// Pattern is the collaboration strategy governing the session.
	Pattern string `json:"pattern"`
	// Requirements is the dispatch request the chain was planned from.
	Requirements string `json:"requirements"`
	// Status is the current state of the session.
	Status SessionStatus `json:"status"`
	// Checkpoint is the name of the last satisfied checkpoint, if any.
	Checkpoint string `json:"checkpoint,omitempty"`
	// ActiveWorkers lists workers the session believes are live.
	ActiveWorkers []ActiveWorker `json:"active_workers,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the session reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Worker returns the active worker entry for taskID, or nil.
func (s *Session) Worker(taskID string) *ActiveWorker {
	for i := range s.ActiveWorkers {
		if s.ActiveWorkers[i].TaskID == taskID {
			return &s.ActiveWorkers[i]
		}
	}
	return nil
}

// AddWorker records a live worker on the session.
func (s *Session) AddWorker(w ActiveWorker) {
	s.ActiveWorkers = append(s.ActiveWorkers, w)
}

// RemoveWorker removes the active worker entry with the given worker ID.
func (s *Session) RemoveWorker(workerID string) {
	for i := range s.ActiveWorkers {
		if s.ActiveWorkers[i].WorkerID == workerID {
			s.ActiveWorkers = append(s.ActiveWorkers[:i], s.ActiveWorkers[i+1:]...)
			return
		}
	}
}
