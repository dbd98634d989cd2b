package pattern

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// DualTrack runs two parallel sub-chains that meet at synthetic sync
// barriers. Each barrier compares the interfaces the two tracks declared;
// mismatches trigger bounded correction rounds, after which the pattern
// downgrades to a sequential pipeline.
type DualTrack struct {
	cfg Config
}

// Name implements Engine.
func (dt *DualTrack) Name() string { return "dual-track" }

// Plan lays out design and build phases for both tracks with a barrier
// after each phase. Requirements may name the two tracks separated by a
// semicolon; a single requirement is shared by both.
func (dt *DualTrack) Plan(requirements string) []*models.Task {
	parts := splitRequirements(requirements)
	reqA, reqB := parts[0], parts[0]
	if len(parts) > 1 {
		reqB = parts[1]
	}

	track := func(t *models.Task, label string) *models.Task {
		t.SetMeta(models.MetaTrack, label)
		return t
	}
	barrier := func(subject string, deps ...string) *models.Task {
		t := &models.Task{
			Subject:     subject,
			Owner:       "integrator",
			Description: "Sync barrier: both tracks must declare matching interfaces.",
			BlockedBy:   deps,
		}
		t.SetMeta(models.MetaCheckpoint, "barrier")
		return t
	}

	return []*models.Task{
		track(&models.Task{Subject: "a-design", Owner: "planner", Description: "Design track A: " + reqA}, "a"),
		track(&models.Task{Subject: "b-design", Owner: "planner", Description: "Design track B: " + reqB}, "b"),
		barrier("sync-design", "a-design", "b-design"),
		track(&models.Task{Subject: "a-build", Owner: "builder", Description: "Build track A: " + reqA, BlockedBy: []string{"sync-design"}}, "a"),
		track(&models.Task{Subject: "b-build", Owner: "builder", Description: "Build track B: " + reqB, BlockedBy: []string{"sync-design"}}, "b"),
		barrier("sync-build", "a-build", "b-build"),
	}
}

// Decide implements Engine.
func (dt *DualTrack) Decide(ctx Context, st *State) (Decision, error) {
	if st.Flag("downgraded") {
		// Remaining work runs as a plain pipeline. Barriers left in the
		// chain are moot once the tracks are sequential.
		d, err := (&Pipeline{cfg: dt.cfg}).Decide(ctx, st)
		if err != nil {
			return d, err
		}
		for _, t := range ctx.Ready {
			if t.IsCheckpoint() {
				d.Changes = append(d.Changes, TaskChange{TaskID: t.ID, Status: models.TaskStatusSkipped})
			}
		}
		return d, nil
	}

	var d Decision
	for _, t := range ctx.Tasks {
		if t.Status == models.TaskStatusBlocked {
			retryBlocked(t, dt.cfg.MaxRetries, st, &d)
			if d.Escalate != nil {
				return d, nil
			}
		}
	}

	for _, t := range ctx.Ready {
		if !t.IsCheckpoint() {
			continue
		}
		dt.evaluateBarrier(ctx, st, t, &d)
		if st.Flag("downgraded") {
			break
		}
	}

	d.Spawn = spawnPending(ctx)
	if allTerminal(ctx) {
		d.Done = true
		d.Verdict = models.VerdictApprove
	}
	return d, nil
}

// evaluateBarrier compares the latest declared interface on each track. The
// barrier task is synthetic: the engine completes it itself.
func (dt *DualTrack) evaluateBarrier(ctx Context, st *State, barrier *models.Task, d *Decision) {
	ifaceA := latestInterface(ctx, "a")
	ifaceB := latestInterface(ctx, "b")

	if ifaceA != "" && ifaceA == ifaceB {
		d.Changes = append(d.Changes,
			TaskChange{TaskID: barrier.ID, Status: models.TaskStatusInProgress},
			TaskChange{TaskID: barrier.ID, Status: models.TaskStatusCompleted,
				Meta: map[string]string{models.MetaInterface: ifaceA}},
		)
		d.Note = barrier.Subject + " passed"
		return
	}

	round := st.Bump("correct:" + barrier.Subject)
	mismatch := fmt.Sprintf("%s: interfaces diverge\ntrack a: %s\ntrack b: %s", barrier.Subject, ifaceA, ifaceB)
	st.Diagnosis = append(st.Diagnosis, mismatch)

	if round > dt.cfg.CorrectionRounds {
		// Give up on parallel tracks: skip the barrier (skip satisfies the
		// dependents) and fall back to sequential handling.
		st.SetFlag("downgraded", true)
		d.Changes = append(d.Changes, TaskChange{
			TaskID: barrier.ID,
			Status: models.TaskStatusSkipped,
			Meta:   map[string]string{models.MetaFailReason: "barrier corrections exhausted"},
		})
		d.Note = barrier.Subject + " exhausted corrections, downgrading to pipeline"
		return
	}

	for _, label := range []string{"a", "b"} {
		subject := fmt.Sprintf("%s-correct-%s-%d", label, barrier.Subject, round)
		fix := &models.Task{
			Subject:     subject,
			Owner:       "builder",
			Description: "Align the declared interface with the other track:\n" + mismatch,
		}
		fix.SetMeta(models.MetaTrack, label)
		d.FollowUps = append(d.FollowUps, fix)
		d.Edges = append(d.Edges, Edge{TaskID: barrier.ID, DependsOn: subject})
	}
	d.Note = fmt.Sprintf("%s correction round %d", barrier.Subject, round)
}

// latestInterface returns the most recently completed interface declaration
// on the given track.
func latestInterface(ctx Context, track string) string {
	best := ""
	bestSeq := -1
	for _, t := range ctx.Tasks {
		if t.Meta(models.MetaTrack) != track || t.Status != models.TaskStatusCompleted {
			continue
		}
		if iface := strings.TrimSpace(t.Meta(models.MetaInterface)); iface != "" && t.Seq > bestSeq {
			best, bestSeq = iface, t.Seq
		}
	}
	return best
}
