package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/pattern"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Load restores a persisted session into an empty coordinator: the session
// record, the task snapshot, the message log, and the strategy state.
func (c *Coordinator) Load(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return fmt.Errorf("load: no state database configured")
	}
	if c.session != nil {
		return fmt.Errorf("load: session %s already loaded", c.session.ID)
	}

	snap, err := c.db.LoadSnapshot(sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	eng, err := pattern.New(snap.Session.Pattern, c.cfg)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if err := c.tasks.Restore(snap.Tasks); err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if err := c.bus.Restore(snap.Messages); err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	st := pattern.NewState()
	if len(snap.PatternState) > 0 {
		if err := json.Unmarshal(snap.PatternState, st); err != nil {
			return fmt.Errorf("load session %s: pattern state: %w", sessionID, err)
		}
	}

	c.session = snap.Session
	c.engine = eng
	c.pstate = st

	// A paused session without a ready confirmation gate was paused by an
	// escalation; rebuild the report from the logged escalate message so an
	// operator process can still decide it.
	if snap.Session.Status == models.SessionPaused && !c.readyGateLocked() {
		for i := len(snap.Messages) - 1; i >= 0; i-- {
			m := snap.Messages[i]
			if m.Type != models.MessageEscalate {
				continue
			}
			c.escalateFromMessageLocked(m)
			break
		}
	}

	debugLog("loaded session %s: %d tasks, %d messages", sessionID, len(snap.Tasks), len(snap.Messages))
	return nil
}

// readyGateLocked reports whether a checkpoint gate sits in the ready set.
func (c *Coordinator) readyGateLocked() bool {
	for _, t := range graph.ReadySet(c.tasks.Snapshot()) {
		if t.IsCheckpoint() {
			return true
		}
	}
	return false
}

// escalateFromMessageLocked rebuilds the open escalation report from its
// persisted escalate message.
func (c *Coordinator) escalateFromMessageLocked(m models.Message) {
	subject := ""
	if t, err := c.tasks.Get(m.TaskID); err == nil {
		subject = t.Subject
	}
	c.escalation = &EscalationReport{
		SessionID:  c.session.ID,
		TaskID:     m.TaskID,
		Subject:    subject,
		Reason:     m.Payload,
		Checkpoint: c.session.Checkpoint,
		Diagnosis:  append([]string(nil), c.pstate.Diagnosis...),
		Options:    []EscalationAction{EscalationRetry, EscalationSkip, EscalationAbort, EscalationManualInput},
		CreatedAt:  m.Timestamp,
	}
}

// Reconcile repairs a loaded session after an interruption and returns the
// number of task store mutations performed. Re-running reconciliation on an
// already-consistent session performs zero mutations.
//
// Three repairs, in order: dangling dependency edges are pruned, tasks the
// stored strategy expects but the snapshot lost are recreated with their
// canonical edges, and in_progress tasks whose worker liveness cannot be
// confirmed are reset to pending.
func (c *Coordinator) Reconcile() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return 0, fmt.Errorf("reconcile: no session loaded")
	}

	mutations := c.tasks.PruneDangling()

	// Recreate missing expected tasks. Plan order guarantees a task's
	// canonical dependencies are planned before it.
	planned := c.engine.Plan(c.session.Requirements)
	for _, p := range planned {
		if c.tasks.GetBySubject(p.Subject) != nil {
			continue
		}
		id, err := c.createPlannedLocked(p)
		if err != nil {
			return mutations, fmt.Errorf("reconcile: recreate %q: %w", p.Subject, err)
		}
		mutations++
		debugLog("reconcile: recreated missing task %s as %s", p.Subject, id)
	}

	// Restore canonical edges between surviving tasks. Recreated tasks may
	// be depended on by tasks that lost the edge with the old task ID.
	for _, p := range planned {
		t := c.tasks.GetBySubject(p.Subject)
		for _, depRef := range p.BlockedBy {
			dep := c.tasks.GetBySubject(depRef)
			if dep == nil || hasDep(t, dep.ID) {
				continue
			}
			if err := c.tasks.AddDependency(t.ID, dep.ID); err != nil {
				return mutations, fmt.Errorf("reconcile: edge %s -> %s: %w", t.Subject, dep.Subject, err)
			}
			mutations++
		}
	}

	// Reset tasks whose worker cannot be confirmed alive.
	for _, t := range c.tasks.List(task.Filter{Status: models.TaskStatusInProgress}) {
		aw := c.session.Worker(t.ID)
		if aw != nil && (c.pool.Live(aw.WorkerID) || (aw.PID > 0 && state.ProcessAlive(aw.PID))) {
			continue
		}
		pending := models.TaskStatusPending
		if err := c.tasks.Update(t.ID, task.Update{Status: &pending}); err != nil {
			return mutations, fmt.Errorf("reconcile: reset %s: %w", t.Subject, err)
		}
		mutations++
		if aw != nil {
			c.session.RemoveWorker(aw.WorkerID)
		}
		debugLog("reconcile: reset orphaned task %s to pending", t.Subject)
	}

	if mutations > 0 {
		if err := c.persistLocked(); err != nil {
			return mutations, err
		}
	}
	return mutations, nil
}

func hasDep(t *models.Task, id string) bool {
	for _, dep := range t.BlockedBy {
		if dep == id {
			return true
		}
	}
	return false
}
