package pattern

import (
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ReviewCycle alternates a producer and a reviewer until the reviewer accepts,
// the iteration budget runs out, or the findings stop improving.
type ReviewCycle struct {
	cfg Config
}

// Name implements Engine.
func (r *ReviewCycle) Name() string { return "review-cycle" }

// Plan creates the initial produce/review pair.
func (r *ReviewCycle) Plan(requirements string) []*models.Task {
	return []*models.Task{
		{Subject: "produce", Owner: "builder", Description: requirements},
		{Subject: "review-1", Owner: "reviewer", Description: "Review the produced work: " + requirements, BlockedBy: []string{"produce"}},
	}
}

// Decide implements Engine.
func (r *ReviewCycle) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	for _, t := range ctx.Tasks {
		if t.Status == models.TaskStatusBlocked {
			retryBlocked(t, r.cfg.MaxRetries, st, &d)
			if d.Escalate != nil {
				return d, nil
			}
		}
	}

	round := st.Iteration + 1
	review := ctx.BySubject(fmt.Sprintf("review-%d", round))
	if review != nil && review.Status == models.TaskStatusCompleted && !st.Flag("judged:"+review.ID) {
		st.SetFlag("judged:"+review.ID, true)

		verdict := verdictOf(review)
		if verdict.Accepting() {
			d.Done = true
			d.Verdict = verdict
			d.Note = fmt.Sprintf("review accepted after %d round(s)", round)
			return d, nil
		}

		// Non-improvement check: a round whose finding count did not drop
		// counts toward the stall budget.
		count := findingsCount(review)
		if len(st.History) > 0 && count >= st.History[len(st.History)-1] {
			st.Bump("stalled")
		} else {
			st.Counters["stalled"] = 0
		}
		st.History = append(st.History, count)
		st.Diagnosis = append(st.Diagnosis, fmt.Sprintf("round %d: %d finding(s)", round, count))

		if st.Counter("stalled") >= r.cfg.StallRounds {
			d.Escalate = &Escalation{
				TaskID:    review.ID,
				Reason:    fmt.Sprintf("%d consecutive non-improving review rounds", r.cfg.StallRounds),
				Diagnosis: st.Diagnosis,
			}
			return d, nil
		}
		if round >= r.cfg.MaxIterations {
			d.Escalate = &Escalation{
				TaskID:    review.ID,
				Reason:    fmt.Sprintf("review not accepted within %d iterations", r.cfg.MaxIterations),
				Diagnosis: st.Diagnosis,
			}
			return d, nil
		}

		st.Iteration++
		next := st.Iteration + 1
		fix := fmt.Sprintf("fix-%d", st.Iteration)
		d.FollowUps = append(d.FollowUps,
			&models.Task{
				Subject:     fix,
				Owner:       "builder",
				Description: "Address the review findings:\n" + review.Meta(models.MetaFindings),
				BlockedBy:   []string{review.Subject},
			},
			&models.Task{
				Subject:     fmt.Sprintf("review-%d", next),
				Owner:       "reviewer",
				Description: "Re-review after fixes.",
				BlockedBy:   []string{fix},
			},
		)
	}

	d.Spawn = spawnPending(ctx)
	return d, nil
}
