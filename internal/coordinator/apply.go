package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/ensemble/internal/pattern"
	"github.com/ShayCichocki/ensemble/internal/retro"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/internal/worker"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// metaPaused marks a task whose worker is held by a strategy pause.
const metaPaused = "paused"

// applyLocked applies one decision batch in order: follow-ups, edges, task
// changes, then spawns, continuations, pauses/resumes, and closes. The batch
// was computed from one consistent snapshot; nothing in it spans a wait.
func (c *Coordinator) applyLocked(d pattern.Decision) error {
	for _, f := range d.FollowUps {
		id, err := c.createPlannedLocked(f)
		if err != nil {
			return fmt.Errorf("apply follow-up %q: %w", f.Subject, err)
		}
		debugLog("follow-up %s created as %s", f.Subject, id)
	}

	for _, e := range d.Edges {
		dep, err := c.resolveRefLocked(e.DependsOn)
		if err != nil {
			return fmt.Errorf("apply edge: %w", err)
		}
		if err := c.tasks.AddDependency(e.TaskID, dep); err != nil {
			return fmt.Errorf("apply edge %s -> %s: %w", e.TaskID, dep, err)
		}
	}

	for _, ch := range d.Changes {
		upd := task.Update{Meta: ch.Meta, IncrementRetry: ch.IncrementRetry}
		if ch.Status != "" {
			upd.Status = &ch.Status
		}
		if err := c.tasks.Update(ch.TaskID, upd); err != nil {
			return fmt.Errorf("apply change to %s: %w", ch.TaskID, err)
		}
	}

	for _, id := range d.Spawn {
		if err := c.spawnLocked(id); err != nil {
			return err
		}
	}

	for _, cont := range d.Continue {
		if err := c.pool.SendContinuation(cont.WorkerID, cont.Message); err != nil {
			// A crashed or closed worker cannot take the continuation; the
			// strategy sees the task state and falls back on the next wake.
			debugLog("continuation to %s failed: %v", cont.WorkerID, err)
			if !errors.Is(err, worker.ErrAlreadyClosed) &&
				!errors.Is(err, worker.ErrWorkerCrashed) &&
				!errors.Is(err, worker.ErrNotAwaiting) &&
				!errors.Is(err, worker.ErrWorkerNotFound) {
				return fmt.Errorf("apply continuation: %w", err)
			}
		}
	}

	for _, id := range d.Pause {
		if err := c.tasks.Update(id, task.Update{Meta: map[string]string{metaPaused: "true"}}); err != nil {
			return fmt.Errorf("apply pause to %s: %w", id, err)
		}
	}
	for _, id := range d.Resume {
		if err := c.tasks.Update(id, task.Update{Meta: map[string]string{metaPaused: ""}}); err != nil {
			return fmt.Errorf("apply resume to %s: %w", id, err)
		}
	}

	for _, wid := range d.Close {
		c.closeWorkerLocked(wid)
	}

	if d.Retro != nil {
		c.persistRetroLocked(d.Retro)
	}
	if d.Escalate != nil {
		c.escalateLocked(d.Escalate)
	}
	if d.Done {
		c.completeLocked(d.Verdict)
	}
	return nil
}

// spawnLocked moves a task to in_progress and starts a worker for it.
func (c *Coordinator) spawnLocked(taskID string) error {
	t, err := c.tasks.Get(taskID)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	if t.Meta(metaPaused) != "" {
		return nil // held by a strategy pause
	}

	role, ok := c.roles.Get(t.Owner)
	if !ok {
		return fmt.Errorf("spawn %s: owner %q: %w", t.Subject, t.Owner, task.ErrUnknownOwner)
	}

	if err := c.tasks.Update(taskID, task.StatusUpdate(models.TaskStatusInProgress)); err != nil {
		return fmt.Errorf("spawn %s: %w", t.Subject, err)
	}

	wid, err := c.pool.Spawn(worker.StartRequest{
		SessionID: c.session.ID,
		TaskID:    taskID,
		Role:      t.Owner,
		Prompt:    buildPrompt(role, t, c.session),
		Dir:       c.dir,
	})
	if err != nil {
		// Roll the task back so a later wake can retry the spawn.
		pending := models.TaskStatusPending
		c.tasks.Update(taskID, task.Update{Status: &pending})
		return fmt.Errorf("spawn %s: %w", t.Subject, err)
	}

	now := time.Now()
	c.session.AddWorker(models.ActiveWorker{
		WorkerID:  wid,
		TaskID:    taskID,
		Role:      t.Owner,
		PID:       c.pool.PID(wid),
		SpawnedAt: now,
	})
	if c.db != nil {
		c.db.SaveWorker(&models.Worker{
			ID:        wid,
			SessionID: c.session.ID,
			TaskID:    taskID,
			Role:      t.Owner,
			PID:       c.pool.PID(wid),
			Status:    models.WorkerRunning,
			SpawnedAt: now,
		})
	}

	debugLog("spawned %s for task %s (%s)", wid, taskID, t.Subject)
	c.emit(Event{
		Type: EventTaskStarted, SessionID: c.session.ID,
		TaskID: taskID, Subject: t.Subject, WorkerID: wid, Timestamp: now,
	})
	return nil
}

// closeWorkerLocked closes a worker and removes it from the session's
// declared set. Closing an already-closed or unknown worker is not an error.
func (c *Coordinator) closeWorkerLocked(workerID string) {
	if err := c.pool.Close(workerID); err != nil &&
		!errors.Is(err, worker.ErrAlreadyClosed) && !errors.Is(err, worker.ErrWorkerNotFound) {
		debugLog("close %s: %v", workerID, err)
	}
	c.session.RemoveWorker(workerID)

	if c.db != nil {
		now := time.Now()
		for _, w := range c.dbWorkersLocked() {
			if w.ID == workerID && w.Status != models.WorkerClosed {
				w.Status = models.WorkerClosed
				w.ClosedAt = &now
				c.db.SaveWorker(w)
			}
		}
	}
	c.emit(Event{Type: EventWorkerClosed, SessionID: c.session.ID, WorkerID: workerID, Timestamp: time.Now()})
}

// dbWorkersLocked loads persisted worker records for the session, or nil.
func (c *Coordinator) dbWorkersLocked() []*models.Worker {
	if c.db == nil {
		return nil
	}
	workers, err := c.db.LoadWorkers(c.session.ID)
	if err != nil {
		debugLog("load workers: %v", err)
		return nil
	}
	return workers
}

// completeLocked finishes the session: every remaining worker is closed and
// the session reaches its terminal status.
func (c *Coordinator) completeLocked(verdict models.Verdict) {
	for _, aw := range append([]models.ActiveWorker(nil), c.session.ActiveWorkers...) {
		c.closeWorkerLocked(aw.WorkerID)
	}
	now := time.Now()
	c.session.Status = models.SessionCompleted
	c.session.CompletedAt = &now

	debugLog("session %s completed, verdict %s", c.session.ID, verdict)
	c.emit(Event{
		Type: EventSessionDone, SessionID: c.session.ID,
		Message: string(verdict), Timestamp: now,
	})
}

// persistRetroLocked stores a finished post-mortem report and promotes its
// flagged findings into the reusable pool.
func (c *Coordinator) persistRetroLocked(r *pattern.RetroReport) {
	if c.retros == nil {
		return
	}
	report := &retro.Report{
		SessionID: c.session.ID,
		Pattern:   c.session.Pattern,
		Summary:   r.Summary,
		Findings:  r.Findings,
		Partial:   r.Partial,
	}
	if err := c.retros.SaveReport(report); err != nil {
		debugLog("persist retro report: %v", err)
		return
	}
	for _, finding := range r.Promoted {
		if err := c.retros.Promote(finding, c.session.ID); err != nil {
			debugLog("promote finding: %v", err)
		}
	}
}
