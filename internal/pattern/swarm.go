package pattern

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Swarm runs a normal sequential chain until a task blocks past the
// threshold, then pauses unrelated work, fans a diagnosis request out to a
// group of diagnosticians, applies the highest-confidence fix, verifies it,
// and resumes. Two diagnosis rounds, then forced escalation.
type Swarm struct {
	cfg Config
}

// Name implements Engine.
func (s *Swarm) Name() string { return "swarm" }

// Plan creates a sequential builder chain from the requirement parts.
func (s *Swarm) Plan(requirements string) []*models.Task {
	parts := splitRequirements(requirements)
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
func (s *Swarm) Decide(ctx Context, st *State) (Decision, error) {
	if st.Flag("swarming") {
		return s.decideSwarming(ctx, st)
	}

	var d Decision
	for _, t := range ctx.Tasks {
		if t.Status != models.TaskStatusBlocked {
			continue
		}
		if t.RetryCount < s.cfg.BlockedThreshold {
			retryBlocked(t, s.cfg.BlockedThreshold, st, &d)
			continue
		}
		return s.enterSwarm(ctx, st, t), nil
	}

	d.Spawn = spawnPending(ctx)
	if allTerminal(ctx) {
		d.Done = true
		d.Verdict = models.VerdictApprove
	}
	return d, nil
}

// enterSwarm pauses unrelated in-progress work and fans out the first
// diagnosis round.
func (s *Swarm) enterSwarm(ctx Context, st *State, blocked *models.Task) Decision {
	var d Decision

	st.SetFlag("swarming", true)
	st.Counters["round"] = 1
	st.SetNote("blocked", blocked.ID)

	var paused []string
	for _, t := range ctx.Tasks {
		if t.Status == models.TaskStatusInProgress && t.ID != blocked.ID {
			paused = append(paused, t.ID)
		}
	}
	st.SetNote("paused", strings.Join(paused, ","))
	d.Pause = paused

	reason := blocked.Meta(models.MetaFailReason)
	st.Diagnosis = append(st.Diagnosis, blocked.Subject+" blocked past threshold: "+reason)
	d.FollowUps = s.diagnosisTasks(1, blocked, reason)
	d.Note = fmt.Sprintf("swarming on %s with %d diagnosticians", blocked.Subject, s.cfg.SwarmSize)
	return d
}

func (s *Swarm) diagnosisTasks(round int, blocked *models.Task, reason string) []*models.Task {
	var tasks []*models.Task
	for i := 1; i <= s.cfg.SwarmSize; i++ {
		tasks = append(tasks, &models.Task{
			Subject: fmt.Sprintf("diagnose-%d-%d", round, i),
			Owner:   "diagnostician",
			Description: fmt.Sprintf("Diagnose why %q keeps failing (%s) and propose a fix with a confidence score.\nTask: %s",
				blocked.Subject, reason, blocked.Description),
		})
	}
	return tasks
}

// decideSwarming drives the diagnose/fix/verify loop.
func (s *Swarm) decideSwarming(ctx Context, st *State) (Decision, error) {
	var d Decision
	round := st.Counter("round")
	blocked := ctx.Task(st.Note("blocked"))

	// Fix phase: a verify task is outstanding.
	if verifySubject := st.Note("verify"); verifySubject != "" {
		verify := ctx.BySubject(verifySubject)
		switch {
		case verify == nil || !verify.Status.Terminal():
			if apply := ctx.BySubject(st.Note("apply")); apply != nil && apply.Status == models.TaskStatusBlocked {
				st.Diagnosis = append(st.Diagnosis, apply.Subject+" failed: "+apply.Meta(models.MetaFailReason))
				d.Changes = append(d.Changes, TaskChange{TaskID: apply.ID, Status: models.TaskStatusSkipped})
				return s.nextRound(ctx, st, d, blocked)
			}
			d.Spawn = spawnPending(ctx)
			return d, nil

		case verify.Status == models.TaskStatusCompleted && verdictOf(verify).Accepting():
			// Fix verified: release the blocked task and resume the rest.
			st.SetFlag("swarming", false)
			st.SetNote("verify", "")
			st.SetNote("apply", "")
			if blocked != nil {
				d.Edges = append(d.Edges, Edge{TaskID: blocked.ID, DependsOn: verify.ID})
				d.Changes = append(d.Changes, TaskChange{
					TaskID:         blocked.ID,
					Status:         models.TaskStatusPending,
					IncrementRetry: true,
				})
			}
			if paused := st.Note("paused"); paused != "" {
				d.Resume = strings.Split(paused, ",")
				st.SetNote("paused", "")
			}
			d.Note = fmt.Sprintf("swarm fix verified in round %d", round)
			return d, nil

		default:
			st.Diagnosis = append(st.Diagnosis, verify.Subject+" rejected the fix")
			st.SetNote("verify", "")
			st.SetNote("apply", "")
			return s.nextRound(ctx, st, d, blocked)
		}
	}

	// Diagnosis phase: wait for the full round, then pick the winner.
	prefix := fmt.Sprintf("diagnose-%d-", round)
	var best *models.Task
	for _, t := range ctx.Tasks {
		if !strings.HasPrefix(t.Subject, prefix) {
			continue
		}
		if t.Status == models.TaskStatusBlocked {
			// A failed diagnostician simply casts no vote.
			d.Changes = append(d.Changes, TaskChange{TaskID: t.ID, Status: models.TaskStatusSkipped})
			continue
		}
		if !t.Status.Terminal() {
			d.Spawn = spawnPending(ctx)
			return d, nil
		}
		if t.Status == models.TaskStatusCompleted {
			if best == nil || confidenceOf(t) > confidenceOf(best) {
				best = t
			}
		}
	}
	if best == nil {
		return s.nextRound(ctx, st, d, blocked)
	}

	apply := fmt.Sprintf("apply-fix-%d", round)
	verify := fmt.Sprintf("verify-fix-%d", round)
	st.SetNote("apply", apply)
	st.SetNote("verify", verify)
	d.FollowUps = append(d.FollowUps,
		&models.Task{
			Subject:     apply,
			Owner:       "builder",
			Description: "Apply the selected fix:\n" + best.Meta(models.MetaSummary) + "\n" + best.Meta(models.MetaFindings),
		},
		&models.Task{
			Subject:     verify,
			Owner:       "verifier",
			Description: "Verify the applied fix resolves the failure.",
			BlockedBy:   []string{apply},
		},
	)
	d.Note = fmt.Sprintf("selected %s (confidence %.2f)", best.Subject, confidenceOf(best))
	return d, nil
}

// nextRound starts another diagnosis round or forces escalation once the
// round budget is spent.
func (s *Swarm) nextRound(ctx Context, st *State, d Decision, blocked *models.Task) (Decision, error) {
	round := st.Counter("round")
	if round >= s.cfg.DiagnosisRounds {
		id := ""
		reason := "swarm diagnosis exhausted"
		if blocked != nil {
			id = blocked.ID
			reason = fmt.Sprintf("swarm could not unblock %s in %d rounds", blocked.Subject, round)
		}
		d.Escalate = &Escalation{TaskID: id, Reason: reason, Diagnosis: st.Diagnosis}
		return d, nil
	}

	st.Counters["round"] = round + 1
	reason := ""
	if blocked != nil {
		reason = blocked.Meta(models.MetaFailReason)
	}
	target := blocked
	if target == nil {
		target = &models.Task{Subject: "unknown"}
	}
	d.FollowUps = append(d.FollowUps, s.diagnosisTasks(round+1, target, reason)...)
	d.Note = fmt.Sprintf("diagnosis round %d", round+1)
	return d, nil
}
