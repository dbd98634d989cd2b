// Package coordinator drives orchestration sessions: it plans task chains,
// spawns workers, applies strategy decisions, and persists session state.
package coordinator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventSessionStarted indicates a session was dispatched.
	EventSessionStarted EventType = "session_started"
	// EventTaskStarted indicates a worker was spawned for a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskBlocked indicates a task reported it cannot proceed.
	EventTaskBlocked EventType = "task_blocked"
	// EventWorkerClosed indicates a worker was closed.
	EventWorkerClosed EventType = "worker_closed"
	// EventCheckpointReached indicates the session paused at a checkpoint.
	EventCheckpointReached EventType = "checkpoint_reached"
	// EventEscalation indicates a strategy surfaced a terminal failure.
	EventEscalation EventType = "escalation"
	// EventSessionDone indicates every task reached a terminal status.
	EventSessionDone EventType = "session_done"
	// EventSessionAborted indicates the session was stopped externally.
	EventSessionAborted EventType = "session_aborted"
)

// Event is one coordinator event. Events feed the TUI and progress output.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// SessionID is the session the event belongs to.
	SessionID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Subject is the subject of the related task, if applicable.
	Subject string
	// WorkerID is the ID of the related worker, if applicable.
	WorkerID string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter handles event emission for the coordinator.
// It provides a simple, thread-safe way to emit events to subscribers.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEmitter creates a new Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[coordinator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
// This is used by subscribers (e.g., TUI) to receive updates.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the coordinator is stopped.
func (e *Emitter) Close() {
	close(e.events)
}
