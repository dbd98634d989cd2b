package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a worker is executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed without help.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusSkipped indicates the task was deliberately not executed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is allowed out of the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// Satisfied returns true if the status satisfies a dependency edge.
// Skipped dependencies count as satisfied so that skipping a task does not
// strand its dependents.
func (s TaskStatus) Satisfied() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// taskTransitions defines the allowed status transitions.
// Key is the current status, value is the set of valid target statuses.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusInProgress: true,
		TaskStatusSkipped:    true,
	},
	TaskStatusInProgress: {
		TaskStatusCompleted: true,
		TaskStatusBlocked:   true,
		// Back to pending is the retry path.
		TaskStatusPending: true,
	},
	TaskStatusBlocked: {
		// A blocked task is retried or abandoned, never resumed in place.
		TaskStatusPending: true,
		TaskStatusSkipped: true,
	},
}

// CanTransition reports whether a task may move from s to target.
func (s TaskStatus) CanTransition(target TaskStatus) bool {
	return taskTransitions[s][target]
}

// Task metadata keys used by collaboration patterns.
const (
	// MetaVerdict holds the reviewer verdict for the task's last round.
	MetaVerdict = "verdict"
	// MetaFindings holds a newline-joined list of open findings.
	MetaFindings = "findings"
	// MetaIteration holds the pattern iteration the task belongs to.
	MetaIteration = "iteration"
	// MetaConfidence holds a 0..1 confidence score reported by the worker.
	MetaConfidence = "confidence"
	// MetaTouches holds a comma-separated list of resources the task touches.
	MetaTouches = "touches"
	// MetaIncrement holds the increment (topological layer) index.
	MetaIncrement = "increment"
	// MetaTrack holds the dual-track chain label (a or b).
	MetaTrack = "track"
	// MetaInterface holds the interface declaration published at a sync barrier.
	MetaInterface = "interface"
	// MetaCheckpoint marks a synthetic checkpoint task.
	MetaCheckpoint = "checkpoint"
	// MetaFailReason holds the last failure summary for the task.
	MetaFailReason = "fail_reason"
	// MetaSummary holds the worker's report summary after completion.
	MetaSummary = "summary"
	// MetaArtifact holds an artifact pointer attached to the task.
	MetaArtifact = "artifact"
	// MetaItem holds the work-item name a beat consumer processes.
	MetaItem = "item"
)

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// SessionID is the session the task belongs to.
	SessionID string `json:"session_id,omitempty"`
	// Subject is the role-binding label. Unique within a session.
	Subject string `json:"subject"`
	// Owner is the role responsible for executing the task.
	Owner string `json:"owner"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// BlockedBy lists task IDs that must be satisfied before this task runs.
	BlockedBy []string `json:"blocked_by,omitempty"`
	// Description provides detailed instructions for the worker.
	Description string `json:"description,omitempty"`
	// Metadata carries pattern-specific values (verdicts, findings, counters).
	Metadata map[string]string `json:"metadata,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// Seq is the creation order within the store. Used for deterministic
	// ready-set ordering.
	Seq int `json:"seq"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Meta returns the metadata value for key, or "" when unset.
func (t *Task) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (t *Task) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// IsCheckpoint returns true if the task is a synthetic checkpoint gate.
func (t *Task) IsCheckpoint() bool {
	return t.Meta(MetaCheckpoint) != ""
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	if t.BlockedBy != nil {
		cp.BlockedBy = append([]string(nil), t.BlockedBy...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
