package pattern

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Escalator walks an ordered chain of handler levels. Each level gets a
// bounded number of attempts; failure forwards the accumulated diagnosis
// chain to the next level. The last level is terminal and waits without a
// deadline.
type Escalator struct {
	cfg Config
}

// Name implements Engine.
func (e *Escalator) Name() string { return "escalation" }

// Plan creates the first-level task.
func (e *Escalator) Plan(requirements string) []*models.Task {
	return []*models.Task{e.levelTask(0, requirements, nil)}
}

func (e *Escalator) levelTask(level int, requirements string, diagnosis []string) *models.Task {
	desc := requirements
	if len(diagnosis) > 0 {
		desc += "\n\nDiagnosis from lower levels:\n" + strings.Join(diagnosis, "\n")
	}
	return &models.Task{
		Subject:     fmt.Sprintf("level-%d", level+1),
		Owner:       e.cfg.Levels[level],
		Description: desc,
	}
}

// TerminalLevel reports whether a task belongs to the chain's last level.
// A failure exhausted there has nowhere left to forward.
func (e *Escalator) TerminalLevel(t *models.Task) bool {
	return t.Subject == fmt.Sprintf("level-%d", len(e.cfg.Levels))
}

// Decide implements Engine.
func (e *Escalator) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	level := st.Counter("level")
	current := ctx.BySubject(fmt.Sprintf("level-%d", level+1))
	if current == nil {
		d.Spawn = spawnPending(ctx)
		return d, nil
	}

	switch current.Status {
	case models.TaskStatusCompleted:
		d.Done = true
		d.Verdict = models.VerdictApprove
		d.Note = fmt.Sprintf("resolved at level %d (%s)", level+1, current.Owner)
		return d, nil

	case models.TaskStatusBlocked:
		reason := current.Meta(models.MetaFailReason)
		if current.RetryCount < e.cfg.LevelAttempts {
			st.Diagnosis = append(st.Diagnosis, fmt.Sprintf("level %d (%s) attempt %d: %s",
				level+1, current.Owner, current.RetryCount+1, reason))
			d.Changes = append(d.Changes, TaskChange{
				TaskID:         current.ID,
				Status:         models.TaskStatusPending,
				IncrementRetry: true,
			})
			break
		}

		st.Diagnosis = append(st.Diagnosis, fmt.Sprintf("level %d (%s) exhausted: %s",
			level+1, current.Owner, reason))

		if e.TerminalLevel(current) {
			return Decision{}, fmt.Errorf("%w: %d levels consumed", ErrEscalationExhausted, len(e.cfg.Levels))
		}

		st.Counters["level"] = level + 1
		d.Changes = append(d.Changes, TaskChange{TaskID: current.ID, Status: models.TaskStatusSkipped})
		d.FollowUps = append(d.FollowUps, e.levelTask(level+1, baseRequirements(ctx), st.Diagnosis))
		d.Note = fmt.Sprintf("escalating to level %d (%s)", level+2, e.cfg.Levels[level+1])
	}

	d.Spawn = spawnPending(ctx)
	return d, nil
}

// baseRequirements recovers the original requirements from the first-level
// task description, before any diagnosis suffix.
func baseRequirements(ctx Context) string {
	first := ctx.BySubject("level-1")
	if first == nil {
		return ""
	}
	if i := strings.Index(first.Description, "\n\nDiagnosis from lower levels:"); i >= 0 {
		return first.Description[:i]
	}
	return first.Description
}
