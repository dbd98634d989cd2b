// Package pattern provides the pluggable collaboration strategies that turn
// ready tasks and recent messages into scheduling decisions.
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Errors surfaced by pattern engines. Quorum and gate failures are
// recoverable through strategy-defined bounded retries; only exhausted
// escalation must surface externally.
var (
	// ErrQuorumNotReached indicates a consensus gate failed its final round.
	ErrQuorumNotReached = errors.New("quorum not reached")
	// ErrGateFailed indicates an increment gate failed past its retry budget.
	ErrGateFailed = errors.New("gate failed")
	// ErrEscalationExhausted indicates every escalation level was consumed.
	ErrEscalationExhausted = errors.New("escalation exhausted")
	// ErrUnknownPattern indicates the strategy name is not registered.
	ErrUnknownPattern = errors.New("unknown pattern")
)

// Context is one consistent snapshot handed to Decide. It is computed before
// any mutation, so a decision batch never spans a suspension point.
type Context struct {
	// Session is the owning session.
	Session *models.Session
	// Tasks is the full task snapshot in creation order.
	Tasks []*models.Task
	// Ready is the ready set derived from Tasks.
	Ready []*models.Task
	// Messages are the log entries since the engine's replay cursor.
	Messages []models.Message
}

// Task returns the snapshot task with the given ID, or nil.
func (c Context) Task(id string) *models.Task {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// BySubject returns the snapshot task with the given subject, or nil.
func (c Context) BySubject(subject string) *models.Task {
	for _, t := range c.Tasks {
		if t.Subject == subject {
			return t
		}
	}
	return nil
}

// Continuation is an input to deliver to a worker awaiting a decision.
type Continuation struct {
	// WorkerID identifies the worker.
	WorkerID string
	// Message is the continuation input.
	Message string
}

// TaskChange is a status or metadata mutation requested by an engine.
type TaskChange struct {
	// TaskID identifies the task.
	TaskID string
	// Status is the target status, or "" for a metadata-only change.
	Status models.TaskStatus
	// Meta entries are merged into the task metadata.
	Meta map[string]string
	// IncrementRetry bumps the retry counter.
	IncrementRetry bool
}

// Edge is a dependency edge to add. DependsOn may name a task by ID or by
// the subject of a follow-up created in the same decision.
type Edge struct {
	TaskID    string
	DependsOn string
}

// Escalation is the terminal failure report surfaced externally.
type Escalation struct {
	// TaskID is the blocking task.
	TaskID string
	// Reason summarizes why the strategy gave up.
	Reason string
	// Diagnosis is the accumulated diagnosis chain.
	Diagnosis []string
}

// RetroReport is the aggregate produced by the post-mortem pattern.
type RetroReport struct {
	// Summary is a one-paragraph synthesis of the retrospective.
	Summary string
	// Findings are the collected retrospective findings.
	Findings []string
	// Promoted lists findings promoted as reusable patterns.
	Promoted []string
	// Partial indicates some participants never responded.
	Partial bool
}

// Decision is the output of one Decide invocation. The coordinator applies
// it atomically: follow-ups and edges first, then task changes, then spawns,
// continuations, pauses, and closes.
type Decision struct {
	// Spawn lists task IDs to start workers for.
	Spawn []string
	// Close lists worker IDs whose workers are no longer needed.
	Close []string
	// Continue lists continuation inputs for workers awaiting a decision.
	Continue []Continuation
	// FollowUps are new tasks to create. BlockedBy entries may reference
	// subjects; the coordinator resolves them to IDs.
	FollowUps []*models.Task
	// Edges are dependency edges to add to existing tasks.
	Edges []Edge
	// Changes are task mutations to apply.
	Changes []TaskChange
	// Pause lists task IDs whose workers should be held.
	Pause []string
	// Resume lists task IDs whose workers should be released.
	Resume []string
	// Verdict is the strategy's current judgement, if any.
	Verdict models.Verdict
	// Done indicates the chain reached its termination condition.
	Done bool
	// Escalate, when non-nil, surfaces the failure externally and pauses
	// the session.
	Escalate *Escalation
	// Retro, when non-nil, is a finished post-mortem report to persist.
	Retro *RetroReport
	// Note is a human-readable trace line for the debug log.
	Note string
}

// Empty reports whether the decision carries no work at all.
func (d Decision) Empty() bool {
	return len(d.Spawn) == 0 && len(d.Close) == 0 && len(d.Continue) == 0 &&
		len(d.FollowUps) == 0 && len(d.Edges) == 0 && len(d.Changes) == 0 &&
		len(d.Pause) == 0 && len(d.Resume) == 0 &&
		!d.Done && d.Escalate == nil && d.Retro == nil
}

// Engine is the common contract of every collaboration strategy.
// Decide must be a deterministic function of its inputs: all randomness and
// time live outside the engine.
type Engine interface {
	// Name returns the registered strategy name.
	Name() string
	// Plan expands dispatch requirements into the strategy's canonical task
	// chain. BlockedBy entries reference subjects; the coordinator resolves
	// them at creation time. Reconciliation re-plans the chain to recreate
	// missing tasks.
	Plan(requirements string) []*models.Task
	// Decide consumes one consistent snapshot and produces the next batch
	// of scheduling work.
	Decide(ctx Context, st *State) (Decision, error)
}

// spawnPending returns a spawn list for every ready task that is not a
// synthetic checkpoint gate. Order follows the ready set (creation order).
func spawnPending(ctx Context) []string {
	var ids []string
	for _, t := range ctx.Ready {
		if t.IsCheckpoint() {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}

// allTerminal reports whether every task in the snapshot is terminal.
func allTerminal(ctx Context) bool {
	return graph.AllTerminal(ctx.Tasks)
}

// splitRequirements breaks a requirements string into individual work items
// on semicolons, falling back to the whole string.
func splitRequirements(requirements string) []string {
	parts := strings.Split(requirements, ";")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(requirements)}
	}
	return out
}

// findingsCount parses the number of findings recorded on a task.
func findingsCount(t *models.Task) int {
	raw := t.Meta(models.MetaFindings)
	if raw == "" {
		return 0
	}
	return len(strings.Split(raw, "\n"))
}

// findings returns the findings recorded on a task, one per line.
func findings(t *models.Task) []string {
	raw := t.Meta(models.MetaFindings)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// verdictOf returns the verdict recorded on a task, if any.
func verdictOf(t *models.Task) models.Verdict {
	return models.Verdict(t.Meta(models.MetaVerdict))
}

// confidenceOf returns the confidence recorded on a task, or 0.
func confidenceOf(t *models.Task) float64 {
	c, err := strconv.ParseFloat(t.Meta(models.MetaConfidence), 64)
	if err != nil || c < 0 || c > 1 {
		return 0
	}
	return c
}

// retryBlocked applies the shared bounded-retry policy to a blocked task:
// reset to pending while the retry budget lasts, escalate once it is spent.
func retryBlocked(t *models.Task, max int, st *State, d *Decision) {
	reason := t.Meta(models.MetaFailReason)
	if reason == "" {
		reason = "task blocked"
	}
	if t.RetryCount >= max {
		d.Escalate = &Escalation{
			TaskID:    t.ID,
			Reason:    fmt.Sprintf("%s: retry budget exhausted after %d attempts", t.Subject, t.RetryCount),
			Diagnosis: append(append([]string(nil), st.Diagnosis...), t.Subject+": "+reason),
		}
		return
	}
	st.Diagnosis = append(st.Diagnosis, t.Subject+": "+reason)
	d.Changes = append(d.Changes, TaskChange{
		TaskID:         t.ID,
		Status:         models.TaskStatusPending,
		IncrementRetry: true,
	})
}
