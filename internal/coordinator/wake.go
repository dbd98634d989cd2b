package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/internal/worker"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// flagTimeout tells the strategy a bounded wait expired; patterns that tally
// or gather treat it as "work with what arrived".
const flagTimeout = "timeout"

// HandleMessage is wake source (1): a worker callback. The message is logged
// durably, terminal reports reconcile the task store, the sending worker is
// closed, and the strategy decides the next batch.
func (c *Coordinator) HandleMessage(m models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("handle message: no session loaded")
	}
	m.SessionID = c.session.ID
	if _, err := c.bus.Log(m); err != nil {
		return fmt.Errorf("handle message: %w", err)
	}

	if m.Type.Terminal() {
		c.reconcileMessageLocked(m)
	}
	return c.advanceLocked()
}

// reconcileMessageLocked applies a terminal report message to the task store
// and retires the worker that sent it. Task store status, not message
// content, remains ground truth: stale or duplicate messages are ignored.
func (c *Coordinator) reconcileMessageLocked(m models.Message) {
	if m.TaskID == "" {
		return
	}
	t, err := c.tasks.Get(m.TaskID)
	if err != nil || t.Status != models.TaskStatusInProgress {
		return
	}

	rep := worker.ParseReport(m.Payload)
	switch m.Type {
	case models.MessageTaskComplete:
		meta := reportMeta(rep)
		if m.Artifact != "" {
			meta[models.MetaArtifact] = m.Artifact
		}
		completed := models.TaskStatusCompleted
		c.tasks.Update(m.TaskID, task.Update{Status: &completed, Meta: meta})
		c.emit(Event{Type: EventTaskCompleted, SessionID: c.session.ID, TaskID: m.TaskID, Subject: t.Subject, Timestamp: time.Now()})
	case models.MessageTaskBlocked, models.MessageError:
		reason := rep.Summary
		if reason == "" {
			reason = string(m.Type)
		}
		blocked := models.TaskStatusBlocked
		c.tasks.Update(m.TaskID, task.Update{
			Status: &blocked,
			Meta:   map[string]string{models.MetaFailReason: reason},
		})
		c.emit(Event{Type: EventTaskBlocked, SessionID: c.session.ID, TaskID: m.TaskID, Subject: t.Subject, Message: reason, Timestamp: time.Now()})
	}

	// The reporting worker finished its task; retire it. Delayed until here
	// so no wait or continuation can still be pending on it.
	if aw := c.session.Worker(m.TaskID); aw != nil && aw.WorkerID == m.From {
		c.closeWorkerLocked(aw.WorkerID)
	}
}

// StatusView is the read-only render returned by Check.
type StatusView struct {
	// Session is a copy of the session record.
	Session models.Session
	// Tasks is the task snapshot in creation order.
	Tasks []*models.Task
	// Ready lists the IDs of tasks currently in the ready set.
	Ready []string
	// LastSeq is the sequence of the newest logged message.
	LastSeq int64
	// Escalation is the open escalation report, if any.
	Escalation *EscalationReport
}

// Check is wake source (2): an external status check. It renders the
// dependency graph annotated with status and performs no mutation.
func (c *Coordinator) Check() (*StatusView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, fmt.Errorf("check: no session loaded")
	}
	tasks := c.tasks.Snapshot()
	view := &StatusView{
		Session:    *c.session,
		Tasks:      tasks,
		LastSeq:    c.bus.LastSeq(),
		Escalation: c.escalation,
	}
	view.Session.ActiveWorkers = append([]models.ActiveWorker(nil), c.session.ActiveWorkers...)
	for _, t := range graph.ReadySet(tasks) {
		view.Ready = append(view.Ready, t.ID)
	}
	return view, nil
}

// Resume is wake source (3): an external advance. It performs one bounded
// wait over every declared active worker, reconciles finished rounds, resets
// crashed workers' tasks for retry, and lets the strategy decide. A wait
// timeout is not an error; the strategy sees it through the timeout flag.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return fmt.Errorf("resume: no session loaded")
	}
	if c.session.Status != models.SessionActive {
		return nil
	}

	var ids []string
	for _, aw := range c.session.ActiveWorkers {
		if c.pool.Live(aw.WorkerID) {
			ids = append(ids, aw.WorkerID)
		}
	}
	if len(ids) == 0 {
		return c.advanceLocked()
	}

	res, err := c.pool.Wait(ids, c.waitTimeout)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	for _, out := range res.Outcomes {
		c.applyOutcomeLocked(out)
	}

	if len(res.TimedOut) > 0 {
		c.pstate.SetFlag(flagTimeout, true)
		debugLog("resume: %d workers still running after %s", len(res.TimedOut), c.waitTimeout)
	}
	err = c.advanceLocked()
	c.pstate.SetFlag(flagTimeout, false)
	return err
}

// applyOutcomeLocked folds one worker round outcome into the task store.
func (c *Coordinator) applyOutcomeLocked(out worker.Outcome) {
	t, terr := c.tasks.Get(out.TaskID)
	if terr != nil {
		return
	}

	if out.Crashed {
		// A crash is a failure value, never an error: reset the task for a
		// pattern-governed retry and retire the worker.
		if t.Status == models.TaskStatusInProgress {
			pending := models.TaskStatusPending
			c.tasks.Update(out.TaskID, task.Update{
				Status:         &pending,
				Meta:           map[string]string{models.MetaFailReason: out.FailReason},
				IncrementRetry: true,
			})
		}
		c.bus.Log(models.Message{
			SessionID: c.session.ID, From: out.WorkerID, To: "coordinator",
			Type: models.MessageError, TaskID: out.TaskID, Payload: out.FailReason,
		})
		c.closeWorkerLocked(out.WorkerID)
		return
	}

	rep := out.Report

	// A consult directive keeps the worker alive awaiting the advice.
	if q := rep.Field("consult"); q != "" {
		c.bus.Log(models.Message{
			SessionID: c.session.ID, From: out.WorkerID, To: "coordinator",
			Type: models.MessageConsultRequest, TaskID: out.TaskID, Payload: q,
		})
		return
	}

	if t.Status != models.TaskStatusInProgress {
		c.closeWorkerLocked(out.WorkerID)
		return
	}

	if reason := rep.Field("blocked"); reason != "" {
		blocked := models.TaskStatusBlocked
		c.tasks.Update(out.TaskID, task.Update{
			Status: &blocked,
			Meta:   map[string]string{models.MetaFailReason: reason},
		})
		c.bus.Log(models.Message{
			SessionID: c.session.ID, From: out.WorkerID, To: "coordinator",
			Type: models.MessageTaskBlocked, TaskID: out.TaskID, Payload: rep.Raw,
		})
		c.emit(Event{Type: EventTaskBlocked, SessionID: c.session.ID, TaskID: out.TaskID, Subject: t.Subject, Message: reason, Timestamp: time.Now()})
	} else {
		completed := models.TaskStatusCompleted
		c.tasks.Update(out.TaskID, task.Update{Status: &completed, Meta: reportMeta(rep)})
		c.bus.Log(models.Message{
			SessionID: c.session.ID, From: out.WorkerID, To: "coordinator",
			Type: models.MessageTaskComplete, TaskID: out.TaskID, Payload: rep.Raw,
			Artifact: rep.Field("artifact"),
		})
		c.emit(Event{Type: EventTaskCompleted, SessionID: c.session.ID, TaskID: out.TaskID, Subject: t.Subject, Timestamp: time.Now()})
	}
	c.closeWorkerLocked(out.WorkerID)
}

// reportMeta maps a parsed report onto task metadata for the strategies.
func reportMeta(rep *worker.Report) map[string]string {
	meta := make(map[string]string)
	if rep.Summary != "" {
		meta[models.MetaSummary] = rep.Summary
	}
	if len(rep.Findings) > 0 {
		meta[models.MetaFindings] = strings.Join(rep.Findings, "\n")
	}
	if v := rep.Vote(); v != "" {
		meta[models.MetaVerdict] = string(v)
	} else if v := rep.Verdict(); v != "" {
		meta[models.MetaVerdict] = string(v)
	}
	if conf := rep.Confidence(); conf > 0 {
		meta[models.MetaConfidence] = fmt.Sprintf("%.2f", conf)
	}
	if iface := rep.Field("interface"); iface != "" {
		meta[models.MetaInterface] = iface
	}
	if touches := rep.Field("touches"); touches != "" {
		meta[models.MetaTouches] = touches
	}
	if artifact := rep.Field("artifact"); artifact != "" {
		meta[models.MetaArtifact] = artifact
	}
	if item := rep.Field("item"); item != "" {
		meta[models.MetaItem] = item
	}
	return meta
}
