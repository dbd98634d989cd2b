package pattern

import (
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Pipeline dispatches ready tasks in dependency order. A failed task gets a
// bounded fix follow-up for the same owner; past maxRetries it escalates.
type Pipeline struct {
	cfg Config
}

// Name implements Engine.
func (p *Pipeline) Name() string { return "pipeline" }

// Plan expands the requirements into a sequential chain. A single requirement
// becomes the canonical plan/implement/verify/review chain; semicolon-
// separated requirements become one step each, in order.
func (p *Pipeline) Plan(requirements string) []*models.Task {
	parts := splitRequirements(requirements)
	if len(parts) == 1 {
		req := parts[0]
		return []*models.Task{
			{Subject: "plan", Owner: "planner", Description: "Break down the work: " + req},
			{Subject: "implement", Owner: "builder", Description: req, BlockedBy: []string{"plan"}},
			{Subject: "verify", Owner: "verifier", Description: "Verify the implementation of: " + req, BlockedBy: []string{"implement"}},
			{Subject: "review", Owner: "reviewer", Description: "Review the implementation of: " + req, BlockedBy: []string{"verify"}},
		}
	}

	tasks := make([]*models.Task, 0, len(parts))
	prev := ""
	for i, part := range parts {
		t := &models.Task{
			Subject:     fmt.Sprintf("step-%d", i+1),
			Owner:       "builder",
			Description: part,
		}
		if prev != "" {
			t.BlockedBy = []string{prev}
		}
		tasks = append(tasks, t)
		prev = t.Subject
	}
	return tasks
}

// Decide implements Engine.
func (p *Pipeline) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	for _, t := range ctx.Tasks {
		if t.Status != models.TaskStatusBlocked {
			continue
		}
		if t.RetryCount >= p.cfg.MaxRetries {
			retryBlocked(t, p.cfg.MaxRetries, st, &d)
			return d, nil
		}

		// The blocked task waits for a fix follow-up owned by the same
		// role, then retries.
		n := st.Bump("fix:" + t.ID)
		reason := t.Meta(models.MetaFailReason)
		fix := fmt.Sprintf("%s-fix-%d", t.Subject, n)
		st.Diagnosis = append(st.Diagnosis, t.Subject+": "+reason)

		d.FollowUps = append(d.FollowUps, &models.Task{
			Subject:     fix,
			Owner:       t.Owner,
			Description: fmt.Sprintf("Fix the failure in %q: %s", t.Subject, reason),
		})
		d.Edges = append(d.Edges, Edge{TaskID: t.ID, DependsOn: fix})
		d.Changes = append(d.Changes, TaskChange{
			TaskID:         t.ID,
			Status:         models.TaskStatusPending,
			IncrementRetry: true,
		})
	}

	d.Spawn = spawnPending(ctx)

	if allTerminal(ctx) {
		d.Done = true
		d.Verdict = models.VerdictApprove
	}
	return d, nil
}
