package pattern

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Incremental delivers the work as topologically layered increments, each
// guarded by a gate task that checks the layer's predicates (syntax-clean,
// no-regression, tests-pass). A gate failing past its retry budget rolls back
// that increment only; later increments still run, and a full-suite check
// closes the chain.
type Incremental struct {
	cfg Config
}

// Name implements Engine.
func (n *Incremental) Name() string { return "incremental" }

// Plan creates the increment/gate ladder plus the final full-suite check.
func (n *Incremental) Plan(requirements string) []*models.Task {
	parts := splitRequirements(requirements)
	if len(parts) == 1 {
		expanded := make([]string, n.cfg.Increments)
		for i := range expanded {
			expanded[i] = fmt.Sprintf("%s (increment %d of %d)", parts[0], i+1, n.cfg.Increments)
		}
		parts = expanded
	}

	var tasks []*models.Task
	prevGate := ""
	for i, part := range parts {
		inc := fmt.Sprintf("increment-%d", i+1)
		gate := fmt.Sprintf("gate-%d", i+1)

		work := &models.Task{Subject: inc, Owner: "builder", Description: part}
		if prevGate != "" {
			work.BlockedBy = []string{prevGate}
		}
		work.SetMeta(models.MetaIncrement, strconv.Itoa(i+1))

		check := &models.Task{
			Subject:     gate,
			Owner:       "verifier",
			Description: "Gate check for " + inc + ": syntax clean, no regressions, tests pass.",
			BlockedBy:   []string{inc},
		}
		check.SetMeta(models.MetaIncrement, strconv.Itoa(i+1))

		tasks = append(tasks, work, check)
		prevGate = gate
	}

	tasks = append(tasks, &models.Task{
		Subject:     "full-suite",
		Owner:       "verifier",
		Description: "Run the full verification suite across all delivered increments.",
		BlockedBy:   []string{prevGate},
	})
	return tasks
}

// Decide implements Engine.
func (n *Incremental) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	for _, t := range ctx.Tasks {
		if t.Status != models.TaskStatusBlocked {
			continue
		}

		if !strings.HasPrefix(t.Subject, "gate-") {
			// Increments and the full suite use the shared retry policy.
			retryBlocked(t, n.cfg.GateRetries, st, &d)
			if d.Escalate != nil {
				return d, nil
			}
			continue
		}

		reason := t.Meta(models.MetaFailReason)
		if t.RetryCount < n.cfg.GateRetries {
			// Retry: a fix follow-up for the increment, then re-check.
			attempt := st.Bump("gatefix:" + t.ID)
			fix := fmt.Sprintf("%s-fix-%d", t.Subject, attempt)
			st.Diagnosis = append(st.Diagnosis, t.Subject+" failed: "+reason)

			follow := &models.Task{
				Subject:     fix,
				Owner:       "builder",
				Description: fmt.Sprintf("Make %s pass: %s", t.Subject, reason),
			}
			follow.SetMeta(models.MetaIncrement, t.Meta(models.MetaIncrement))
			d.FollowUps = append(d.FollowUps, follow)
			d.Edges = append(d.Edges, Edge{TaskID: t.ID, DependsOn: fix})
			d.Changes = append(d.Changes, TaskChange{
				TaskID:         t.ID,
				Status:         models.TaskStatusPending,
				IncrementRetry: true,
			})
			continue
		}

		// Retry budget spent: roll back this increment only. The skipped
		// gate still satisfies its dependents, so later increments proceed.
		rollback := fmt.Sprintf("%s rolled back: %s: %s", t.Subject, ErrGateFailed, reason)
		st.Diagnosis = append(st.Diagnosis, rollback)
		d.Changes = append(d.Changes, TaskChange{
			TaskID: t.ID,
			Status: models.TaskStatusSkipped,
			Meta:   map[string]string{models.MetaFailReason: rollback},
		})
		d.Note = rollback
	}

	d.Spawn = spawnPending(ctx)

	if allTerminal(ctx) {
		d.Done = true
		if full := ctx.BySubject("full-suite"); full != nil && full.Status == models.TaskStatusCompleted && len(st.Diagnosis) == 0 {
			d.Verdict = models.VerdictApprove
		} else {
			// Some increment was rolled back or the full suite was skipped.
			d.Verdict = models.VerdictConditional
		}
	}
	return d, nil
}
