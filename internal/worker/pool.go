package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by pool operations.
var (
	// ErrAlreadyClosed indicates an operation on a closed worker.
	ErrAlreadyClosed = errors.New("worker already closed")
	// ErrWorkerCrashed indicates a continuation was sent to a crashed worker.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrNotAwaiting indicates a continuation was sent while a round is in
	// flight. The caller must wait for the round first.
	ErrNotAwaiting = errors.New("worker not awaiting a decision")
	// ErrWorkerNotFound indicates the worker ID is unknown to the pool.
	ErrWorkerNotFound = errors.New("worker not found")
)

// WaitResult is the result of one bounded batch wait.
// A timeout is not an error: TimedOut lists the workers still running, and
// the caller may re-wait, nudge via a continuation, or close them.
type WaitResult struct {
	// Outcomes holds each not-yet-delivered round outcome. An outcome is
	// delivered to exactly one Wait call.
	Outcomes []Outcome
	// TimedOut lists worker IDs still running when the timeout expired.
	TimedOut []string
}

// Pool manages worker handles. It is the only way to spawn, wait on, and
// close workers; every spawn is eventually closed.
type Pool struct {
	factory Factory

	mu      sync.RWMutex
	handles map[string]*Handle
	spawned int
	closed  int

	// notify is pinged whenever any handle finishes a round.
	notify chan struct{}
}

// NewPool creates a pool producing workers from the given factory.
func NewPool(factory Factory) *Pool {
	return &Pool{
		factory: factory,
		handles: make(map[string]*Handle),
		notify:  make(chan struct{}, 1),
	}
}

// Spawn launches a worker for the request and returns its ID. Non-blocking.
func (p *Pool) Spawn(req StartRequest) (string, error) {
	id := req.WorkerID
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
		req.WorkerID = id
	}

	p.mu.Lock()
	if _, exists := p.handles[id]; exists {
		p.mu.Unlock()
		return "", fmt.Errorf("spawn: worker %s already exists", id)
	}
	h := newHandle(id, req, p.factory.NewRunner(), p.ping)
	p.handles[id] = h
	p.spawned++
	p.mu.Unlock()

	if err := h.start(req); err != nil {
		p.mu.Lock()
		delete(p.handles, id)
		p.spawned--
		p.mu.Unlock()
		return "", fmt.Errorf("spawn worker for task %s: %w", req.TaskID, err)
	}
	return id, nil
}

// ping wakes any in-flight Wait.
func (p *Pool) ping() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Wait joins on the given workers with a bounded timeout. It is the only way
// to retrieve results. Workers that finished a round since the last delivery
// contribute their outcome; workers still running, or drained by an earlier
// wait, are listed in TimedOut when the timeout expires. Waiting on a closed
// worker fails with ErrAlreadyClosed.
func (p *Pool) Wait(ids []string, timeout time.Duration) (WaitResult, error) {
	handles := make([]*Handle, 0, len(ids))
	p.mu.RLock()
	for _, id := range ids {
		h, exists := p.handles[id]
		if !exists {
			p.mu.RUnlock()
			return WaitResult{}, fmt.Errorf("wait: %w: %s", ErrWorkerNotFound, id)
		}
		if h.State() == StateClosed {
			p.mu.RUnlock()
			return WaitResult{}, fmt.Errorf("wait on %s: %w", id, ErrAlreadyClosed)
		}
		handles = append(handles, h)
	}
	p.mu.RUnlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var res WaitResult
	collected := make(map[string]bool, len(handles))
	for {
		for _, h := range handles {
			if collected[h.ID] {
				continue
			}
			if out := h.takeOutcome(); out != nil {
				res.Outcomes = append(res.Outcomes, *out)
				collected[h.ID] = true
			}
		}
		if len(collected) == len(handles) {
			return res, nil
		}

		select {
		case <-p.notify:
			// Re-scan for newly finished rounds.
		case <-deadline.C:
			for _, h := range handles {
				if !collected[h.ID] {
					res.TimedOut = append(res.TimedOut, h.ID)
				}
			}
			return res, nil
		}
	}
}

// SendContinuation delivers input to a worker that finished a round.
// Fails with ErrAlreadyClosed if the worker was closed, ErrWorkerCrashed if
// it crashed, and ErrNotAwaiting if a round is still in flight.
func (p *Pool) SendContinuation(id, message string) error {
	h := p.handle(id)
	if h == nil {
		return fmt.Errorf("send continuation: %w: %s", ErrWorkerNotFound, id)
	}
	return h.sendContinuation(message)
}

// Close terminates a worker. Irreversible; fails with ErrAlreadyClosed on a
// second close. The caller must not close while a Wait or SendContinuation
// on the same ID may still be pending.
func (p *Pool) Close(id string) error {
	h := p.handle(id)
	if h == nil {
		return fmt.Errorf("close: %w: %s", ErrWorkerNotFound, id)
	}
	if err := h.close(); err != nil {
		return err
	}

	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	p.ping()
	return nil
}

// CloseAll closes every worker that is not yet closed.
func (p *Pool) CloseAll() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		// Already-closed workers are fine here.
		if err := p.Close(id); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			continue
		}
	}
}

// State returns the lifecycle state of a worker.
func (p *Pool) State(id string) (HandleState, error) {
	h := p.handle(id)
	if h == nil {
		return StateNotSpawned, fmt.Errorf("state: %w: %s", ErrWorkerNotFound, id)
	}
	return h.State(), nil
}

// PID returns the process ID of a worker, or 0.
func (p *Pool) PID(id string) int {
	h := p.handle(id)
	if h == nil {
		return 0
	}
	return h.PID()
}

// Live reports whether the pool holds a non-closed handle for the ID.
// Used by reconciliation to confirm worker liveness.
func (p *Pool) Live(id string) bool {
	h := p.handle(id)
	return h != nil && h.State() != StateClosed
}

// Counts returns the number of spawns and closes performed by the pool.
// At steady state every spawn has been closed.
func (p *Pool) Counts() (spawned, closed int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spawned, p.closed
}

func (p *Pool) handle(id string) *Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handles[id]
}
