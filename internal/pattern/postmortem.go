package pattern

import (
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// PostMortem runs once after a chain completes: it fans a retrospective
// question out to the participant roles, aggregates the findings into a
// report, and promotes high-confidence findings as reusable patterns.
// Missing responses degrade the report to partial instead of blocking it.
type PostMortem struct {
	cfg Config
}

// defaultParticipants answer the retrospective when the requirements do not
// name roles.
var defaultParticipants = []string{"builder", "reviewer", "verifier"}

// Name implements Engine.
func (p *PostMortem) Name() string { return "post-mortem" }

// Plan fans the retrospective question out, one task per participant role
// (semicolon-separated in the requirements).
func (p *PostMortem) Plan(requirements string) []*models.Task {
	participants := splitRequirements(requirements)
	if len(participants) == 1 && participants[0] == requirements {
		participants = defaultParticipants
	}
	tasks := make([]*models.Task, 0, len(participants))
	for _, role := range participants {
		tasks = append(tasks, &models.Task{
			Subject:     "retro-" + role,
			Owner:       role,
			Description: "Retrospective: what went well, what failed, what should be reusable next time? Include a confidence score.",
		})
	}
	return tasks
}

// Decide implements Engine. The coordinator sets the "timeout" flag when the
// single round's wait expires; lagging participants are then skipped and the
// report marked partial.
func (p *PostMortem) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	if st.Flag("timeout") {
		for _, t := range ctx.Tasks {
			switch t.Status {
			case models.TaskStatusPending, models.TaskStatusBlocked:
				d.Changes = append(d.Changes, TaskChange{TaskID: t.ID, Status: models.TaskStatusSkipped})
			case models.TaskStatusInProgress:
				// The coordinator already closed the lagging worker.
				d.Changes = append(d.Changes,
					TaskChange{TaskID: t.ID, Status: models.TaskStatusPending},
					TaskChange{TaskID: t.ID, Status: models.TaskStatusSkipped})
			}
		}
		st.SetFlag("timeout", false)
		if len(d.Changes) > 0 {
			return d, nil
		}
	}

	// Single round: blocked participants are dropped, not retried.
	for _, t := range ctx.Tasks {
		if t.Status == models.TaskStatusBlocked {
			d.Changes = append(d.Changes, TaskChange{TaskID: t.ID, Status: models.TaskStatusSkipped})
		}
	}

	if !allTerminal(ctx) || len(d.Changes) > 0 {
		d.Spawn = spawnPending(ctx)
		return d, nil
	}

	report := &RetroReport{}
	responded := 0
	for _, t := range ctx.Tasks {
		if t.Status != models.TaskStatusCompleted {
			report.Partial = true
			continue
		}
		responded++
		report.Findings = append(report.Findings, findings(t)...)
		if confidenceOf(t) >= p.cfg.ConfidenceThreshold {
			report.Promoted = append(report.Promoted, findings(t)...)
		}
	}
	report.Summary = fmt.Sprintf("retrospective: %d of %d participants responded, %d finding(s), %d promoted",
		responded, len(ctx.Tasks), len(report.Findings), len(report.Promoted))

	d.Retro = report
	d.Done = true
	d.Verdict = models.VerdictApprove
	return d, nil
}
