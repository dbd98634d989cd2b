package coordinator

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/pattern"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// EscalationAction is the external decision on an escalated failure.
type EscalationAction string

const (
	// EscalationRetry grants the blocking task a fresh retry budget.
	EscalationRetry EscalationAction = "retry"
	// EscalationSkip marks the blocking task skipped; skipped dependencies
	// count as satisfied, so independent work continues.
	EscalationSkip EscalationAction = "skip"
	// EscalationAbort stops the session.
	EscalationAbort EscalationAction = "abort"
	// EscalationManualInput feeds operator-provided input to the blocking
	// task's worker, or re-queues the task carrying the input.
	EscalationManualInput EscalationAction = "manual_input"
)

// EscalationReport names everything an operator needs to decide: the last
// satisfied checkpoint, the blocking task, the accumulated diagnosis chain,
// and the available actions.
type EscalationReport struct {
	// SessionID is the escalating session.
	SessionID string
	// TaskID is the blocking task, if the strategy named one.
	TaskID string
	// Subject is the blocking task's subject.
	Subject string
	// Reason summarizes why the strategy gave up.
	Reason string
	// Checkpoint is the last satisfied checkpoint name.
	Checkpoint string
	// Diagnosis is the accumulated diagnosis chain, oldest first.
	Diagnosis []string
	// Options lists the actions Decide accepts.
	Options []EscalationAction
	// CreatedAt is when the escalation surfaced.
	CreatedAt time.Time
}

// escalateLocked surfaces a terminal strategy failure: the session pauses
// and the report is exposed through Check until Decide resolves it.
func (c *Coordinator) escalateLocked(e *pattern.Escalation) {
	subject := ""
	if t, err := c.tasks.Get(e.TaskID); err == nil {
		subject = t.Subject
	}
	c.escalation = &EscalationReport{
		SessionID:  c.session.ID,
		TaskID:     e.TaskID,
		Subject:    subject,
		Reason:     e.Reason,
		Checkpoint: c.session.Checkpoint,
		Diagnosis:  append([]string(nil), e.Diagnosis...),
		Options:    []EscalationAction{EscalationRetry, EscalationSkip, EscalationAbort, EscalationManualInput},
		CreatedAt:  time.Now(),
	}
	c.session.Status = models.SessionPaused

	c.bus.Log(models.Message{
		SessionID: c.session.ID, From: "coordinator", To: "operator",
		Type: models.MessageEscalate, TaskID: e.TaskID, Payload: e.Reason,
	})
	debugLog("escalation: %s (task %s)", e.Reason, e.TaskID)
	c.emit(Event{
		Type: EventEscalation, SessionID: c.session.ID,
		TaskID: e.TaskID, Subject: subject, Message: e.Reason, Timestamp: time.Now(),
	})
}

// Escalation returns the open escalation report, or nil.
func (c *Coordinator) Escalation() *EscalationReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.escalation
}

// Decide resolves the open escalation with the operator's chosen action.
// Input carries the operator's message for manual_input.
func (c *Coordinator) Decide(action EscalationAction, input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.escalation == nil {
		return fmt.Errorf("decide: no escalation in progress")
	}
	report := c.escalation
	debugLog("escalation decision: %s for task %s", action, report.TaskID)

	switch action {
	case EscalationRetry:
		if err := c.resetEscalatedLocked(report.TaskID, ""); err != nil {
			return err
		}
	case EscalationSkip:
		if report.TaskID != "" {
			t, err := c.tasks.Get(report.TaskID)
			if err != nil {
				return fmt.Errorf("decide skip: %w", err)
			}
			if !t.Status.Terminal() {
				// in_progress cannot skip directly; route through pending.
				if t.Status == models.TaskStatusInProgress {
					if err := c.tasks.Update(t.ID, task.StatusUpdate(models.TaskStatusPending)); err != nil {
						return fmt.Errorf("decide skip: %w", err)
					}
				}
				if err := c.tasks.Update(t.ID, task.StatusUpdate(models.TaskStatusSkipped)); err != nil {
					return fmt.Errorf("decide skip: %w", err)
				}
			}
			released := graph.Dependents(c.tasks.Snapshot(), t.ID)
			debugLog("escalation skip: %s releases %d dependent task(s)", t.Subject, len(released))
		}
	case EscalationAbort:
		c.pool.CloseAll()
		c.session.ActiveWorkers = nil
		now := time.Now()
		c.session.Status = models.SessionAborted
		c.session.CompletedAt = &now
		c.escalation = nil
		c.emit(Event{Type: EventSessionAborted, SessionID: c.session.ID, Timestamp: now})
		return c.persistLocked()
	case EscalationManualInput:
		if aw := c.session.Worker(report.TaskID); aw != nil && c.pool.Live(aw.WorkerID) {
			if err := c.pool.SendContinuation(aw.WorkerID, input); err == nil {
				break
			}
			c.closeWorkerLocked(aw.WorkerID)
		}
		if err := c.resetEscalatedLocked(report.TaskID, input); err != nil {
			return err
		}
	default:
		return fmt.Errorf("decide: unknown escalation action %q", action)
	}

	c.escalation = nil
	c.session.Status = models.SessionActive
	return c.advanceLocked()
}

// resetEscalatedLocked re-queues an escalated task with a cleared retry
// budget, optionally appending operator input to its description.
func (c *Coordinator) resetEscalatedLocked(taskID, input string) error {
	if taskID == "" {
		return nil
	}
	t, err := c.tasks.Get(taskID)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	upd := task.Update{ResetRetry: true}
	if !t.Status.Terminal() && t.Status != models.TaskStatusPending {
		pending := models.TaskStatusPending
		upd.Status = &pending
	}
	if input != "" {
		desc := t.Description + "\n\nOperator input:\n" + input
		upd.Description = &desc
	}
	if err := c.tasks.Update(taskID, upd); err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	return nil
}
