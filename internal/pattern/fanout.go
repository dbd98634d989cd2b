package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// FanOut spawns all ready siblings at once, batch-joins them, and aggregates
// their findings. Verdict conflicts below the fan-in quorum route to an inner
// consensus gate.
type FanOut struct {
	cfg Config
}

// Name implements Engine.
func (f *FanOut) Name() string { return "fan-out" }

// Plan creates one independent sibling per requirement part, or FanWidth
// identical siblings when the requirements are a single item.
func (f *FanOut) Plan(requirements string) []*models.Task {
	parts := splitRequirements(requirements)
	if len(parts) == 1 {
		expanded := make([]string, f.cfg.FanWidth)
		for i := range expanded {
			expanded[i] = parts[0]
		}
		parts = expanded
	}
	tasks := make([]*models.Task, 0, len(parts))
	for i, part := range parts {
		tasks = append(tasks, &models.Task{
			Subject:     fmt.Sprintf("part-%d", i+1),
			Owner:       "builder",
			Description: part,
		})
	}
	return tasks
}

// Decide implements Engine.
func (f *FanOut) Decide(ctx Context, st *State) (Decision, error) {
	// Once a conflict has been routed to consensus, the gate owns every
	// subsequent decision.
	if st.Flag("consensus") {
		return (&Consensus{cfg: f.cfg}).Decide(ctx, st)
	}

	var d Decision
	var siblings []*models.Task
	for _, t := range ctx.Tasks {
		if strings.HasPrefix(t.Subject, "part-") {
			siblings = append(siblings, t)
		}
	}

	for _, t := range siblings {
		if t.Status == models.TaskStatusBlocked {
			retryBlocked(t, f.cfg.MaxRetries, st, &d)
			if d.Escalate != nil {
				return d, nil
			}
		}
	}
	if len(d.Changes) > 0 {
		d.Spawn = spawnPending(ctx)
		return d, nil
	}

	for _, t := range siblings {
		if !t.Status.Terminal() {
			d.Spawn = spawnPending(ctx)
			return d, nil
		}
	}

	// Fan-in: every sibling is terminal. Aggregate and check agreement.
	aggregate := f.aggregate(siblings)
	st.SetNote("aggregate", strings.Join(aggregate, "\n"))

	accepting, voting := 0, 0
	for _, t := range siblings {
		if t.Status != models.TaskStatusCompleted {
			continue
		}
		voting++
		if v := verdictOf(t); v == "" || v.Accepting() {
			accepting++
		}
	}
	if voting == 0 {
		d.Escalate = &Escalation{
			Reason:    "no sibling completed",
			Diagnosis: st.Diagnosis,
		}
		return d, nil
	}

	if accepting >= quorumNeeded(f.cfg.FanQuorum, voting) {
		d.Done = true
		d.Verdict = models.VerdictApprove
		d.Note = fmt.Sprintf("fan-in agreed %d/%d, aggregate mode %s", accepting, voting, f.cfg.AggregateMode)
		return d, nil
	}

	// Conflicting verdicts: hand the aggregate to a consensus gate.
	st.SetFlag("consensus", true)
	st.Iteration = 0
	desc := "Resolve the conflicting fan-in results:\n" + strings.Join(aggregate, "\n")
	d.FollowUps = (&Consensus{cfg: f.cfg}).roundTasks(1, desc)
	d.Note = "fan-in conflict routed to consensus gate"
	return d, nil
}

// aggregate merges sibling findings according to the configured mode.
func (f *FanOut) aggregate(siblings []*models.Task) []string {
	weight := make(map[string]float64)
	seen := make(map[string]int)
	var order []string
	completed := 0
	totalWeight := 0.0

	for _, t := range siblings {
		if t.Status != models.TaskStatusCompleted {
			continue
		}
		completed++
		conf := confidenceOf(t)
		if conf == 0 {
			conf = 0.5
		}
		totalWeight += conf
		for _, finding := range findings(t) {
			if _, ok := seen[finding]; !ok {
				order = append(order, finding)
			}
			seen[finding]++
			weight[finding] += conf
		}
	}

	var out []string
	switch f.cfg.AggregateMode {
	case "intersection":
		for _, finding := range order {
			if seen[finding] == completed {
				out = append(out, finding)
			}
		}
	case "weighted":
		for _, finding := range order {
			if weight[finding] >= totalWeight/2 {
				out = append(out, finding)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return weight[out[i]] > weight[out[j]] })
	default: // union
		out = order
	}
	return out
}
