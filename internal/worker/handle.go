package worker

import (
	"sync"
	"time"
)

// HandleState is the lifecycle state of one worker handle.
type HandleState int

const (
	// StateNotSpawned is the zero state before Start.
	StateNotSpawned HandleState = iota
	// StateRunning means the worker is executing a round.
	StateRunning
	// StateAwaitingDecision means a round finished and the worker waits for
	// a continuation or close.
	StateAwaitingDecision
	// StateClosed is terminal. A closed worker can never again be waited on
	// or sent input.
	StateClosed
)

// String returns a human-readable state name.
func (s HandleState) String() string {
	switch s {
	case StateNotSpawned:
		return "not_spawned"
	case StateRunning:
		return "running"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle wraps one spawned worker.
// It consumes the runner's result channel on a private goroutine and exposes
// the latest round outcome to the pool.
type Handle struct {
	// ID is the unique worker identifier.
	ID string
	// TaskID is the task the worker executes.
	TaskID string
	// Role is the worker's role.
	Role string
	// SpawnedAt is when the worker was started.
	SpawnedAt time.Time

	runner Runner
	notify func()

	mu      sync.Mutex
	state   HandleState
	crashed bool
	round   int
	outcome *Outcome
}

func newHandle(id string, req StartRequest, runner Runner, notify func()) *Handle {
	return &Handle{
		ID:        id,
		TaskID:    req.TaskID,
		Role:      req.Role,
		SpawnedAt: time.Now(),
		runner:    runner,
		notify:    notify,
		state:     StateNotSpawned,
	}
}

// start launches the runner and the result-consuming goroutine.
func (h *Handle) start(req StartRequest) error {
	if err := h.runner.Start(req); err != nil {
		return err
	}
	h.mu.Lock()
	h.state = StateRunning
	h.mu.Unlock()

	go h.consume()
	return nil
}

// consume drains the runner's result channel, recording each round outcome.
func (h *Handle) consume() {
	for res := range h.runner.Results() {
		h.mu.Lock()
		if h.state == StateClosed {
			// Result raced a close; drop it.
			h.mu.Unlock()
			continue
		}
		h.round++
		out := Outcome{
			WorkerID:   h.ID,
			TaskID:     h.TaskID,
			Role:       h.Role,
			Round:      h.round,
			FinishedAt: time.Now(),
		}
		if res.Err != nil {
			out.Crashed = true
			out.FailReason = res.Err.Error()
			h.crashed = true
		} else {
			out.Report = ParseReport(res.Output)
		}
		h.outcome = &out
		h.state = StateAwaitingDecision
		h.mu.Unlock()

		h.notify()
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Crashed reports whether the worker has crashed.
func (h *Handle) Crashed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.crashed
}

// PID returns the worker's process ID, or 0.
func (h *Handle) PID() int {
	return h.runner.PID()
}

// takeOutcome hands out the latest round outcome if the handle is awaiting a
// decision. Each outcome is delivered exactly once: a consumed outcome leaves
// the handle awaiting a decision but contributes nothing to later waits, so a
// worker parked mid-consult cannot replay a stale round.
func (h *Handle) takeOutcome() *Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateAwaitingDecision || h.outcome == nil {
		return nil
	}
	out := *h.outcome
	h.outcome = nil
	return &out
}

// sendContinuation delivers input to a worker that finished a round.
func (h *Handle) sendContinuation(message string) error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return ErrAlreadyClosed
	}
	if h.crashed {
		h.mu.Unlock()
		return ErrWorkerCrashed
	}
	if h.state != StateAwaitingDecision {
		h.mu.Unlock()
		return ErrNotAwaiting
	}
	h.state = StateRunning
	h.mu.Unlock()

	if err := h.runner.Send(message); err != nil {
		h.mu.Lock()
		h.crashed = true
		h.state = StateAwaitingDecision
		h.outcome = &Outcome{
			WorkerID:   h.ID,
			TaskID:     h.TaskID,
			Role:       h.Role,
			Round:      h.round + 1,
			Crashed:    true,
			FailReason: err.Error(),
			FinishedAt: time.Now(),
		}
		h.mu.Unlock()
		return ErrWorkerCrashed
	}
	return nil
}

// close terminates the worker. Irreversible.
func (h *Handle) close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return ErrAlreadyClosed
	}
	h.state = StateClosed
	h.outcome = nil
	h.mu.Unlock()

	return h.runner.Kill()
}
