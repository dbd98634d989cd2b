package coordinator

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// AddCheckpoint inserts a synthetic gate task named checkpoint-<name> that
// depends on the `after` tasks and gates the `before` tasks. Both lists take
// subjects or task IDs. The gate is never spawned: when it becomes ready the
// session pauses until Confirm releases it.
func (c *Coordinator) AddCheckpoint(name string, after, before []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("add checkpoint: no session loaded")
	}

	gate := &models.Task{
		Subject:     "checkpoint-" + name,
		Owner:       "operator",
		Description: "Confirmation gate: " + name,
		BlockedBy:   after,
		Metadata:    map[string]string{models.MetaCheckpoint: name},
	}
	gateID, err := c.createPlannedLocked(gate)
	if err != nil {
		return fmt.Errorf("add checkpoint %q: %w", name, err)
	}

	for _, ref := range before {
		id, err := c.resolveRefLocked(ref)
		if err != nil {
			return fmt.Errorf("add checkpoint %q: %w", name, err)
		}
		if err := c.tasks.AddDependency(id, gateID); err != nil {
			return fmt.Errorf("add checkpoint %q: %w", name, err)
		}
	}
	debugLog("checkpoint %s inserted as %s", name, gateID)
	return c.persistLocked()
}

// Confirm releases the named checkpoint: the gate task completes, the session
// resumes, and the now-unblocked ready set is dispatched.
func (c *Coordinator) Confirm(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("confirm: no session loaded")
	}
	gate := c.tasks.GetBySubject("checkpoint-" + name)
	if gate == nil {
		return fmt.Errorf("confirm: unknown checkpoint %q", name)
	}
	if gate.Status.Terminal() {
		return fmt.Errorf("confirm: checkpoint %q already confirmed", name)
	}
	if !c.tasks.IsReady(gate.ID) {
		return fmt.Errorf("confirm: checkpoint %q not yet reached", name)
	}

	// pending -> in_progress -> completed; the gate has no worker.
	if err := c.tasks.Update(gate.ID, task.StatusUpdate(models.TaskStatusInProgress)); err != nil {
		return fmt.Errorf("confirm %q: %w", name, err)
	}
	if err := c.tasks.Update(gate.ID, task.StatusUpdate(models.TaskStatusCompleted)); err != nil {
		return fmt.Errorf("confirm %q: %w", name, err)
	}

	c.session.Checkpoint = name
	if c.session.Status == models.SessionPaused && c.escalation == nil {
		c.session.Status = models.SessionActive
	}
	debugLog("checkpoint %s confirmed", name)
	return c.advanceLocked()
}

// checkpointPauseLocked pauses the session when a confirmation gate is the
// only thing left in the ready set's path. Strategies never spawn gates, so
// a ready gate means external confirmation is required.
func (c *Coordinator) checkpointPauseLocked() {
	if c.session == nil || c.session.Status != models.SessionActive {
		return
	}
	for _, t := range graph.ReadySet(c.tasks.Snapshot()) {
		if !t.IsCheckpoint() {
			continue
		}
		c.session.Status = models.SessionPaused
		name := t.Meta(models.MetaCheckpoint)
		debugLog("session paused at checkpoint %s", name)
		c.emit(Event{
			Type: EventCheckpointReached, SessionID: c.session.ID,
			TaskID: t.ID, Subject: t.Subject, Message: name, Timestamp: time.Now(),
		})
		return
	}
}
