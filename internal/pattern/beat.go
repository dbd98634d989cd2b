package pattern

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Beat runs a pipelined producer/consumer chain with per-item dispatch: the
// producer announces each finished item with an artifact pointer and the
// consumer for that item spawns immediately, instead of waiting for the
// whole batch. An inline check withholds dispatch only for items whose
// declared touched resources conflict with an item already in flight.
type Beat struct {
	cfg Config
}

// Name implements Engine.
func (b *Beat) Name() string { return "beat" }

// Plan creates the producer task. Consumers are created per item_ready
// message.
func (b *Beat) Plan(requirements string) []*models.Task {
	return []*models.Task{
		{
			Subject: "produce",
			Owner:   "builder",
			Description: requirements +
				"\n\nEmit an item_ready message with an artifact pointer per finished item, then all_planned when every item is out.",
		},
	}
}

// item is one announced work item. The message payload carries the item name
// on the first line and an optional comma-separated touched-resources list
// on the second.
type item struct {
	name     string
	artifact string
	touches  []string
}

func parseItem(m models.Message) item {
	lines := strings.SplitN(strings.TrimSpace(m.Payload), "\n", 2)
	it := item{name: strings.TrimSpace(lines[0]), artifact: m.Artifact}
	if len(lines) == 2 {
		for _, r := range strings.Split(lines[1], ",") {
			if r = strings.TrimSpace(r); r != "" {
				it.touches = append(it.touches, r)
			}
		}
	}
	return it
}

// Decide implements Engine.
func (b *Beat) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	var arrivals []item
	for _, m := range ctx.Messages {
		switch m.Type {
		case models.MessageItemReady:
			it := parseItem(m)
			if it.name == "" || st.Flag("item:"+it.name) {
				continue
			}
			st.SetFlag("item:"+it.name, true)
			arrivals = append(arrivals, it)
		case models.MessageAllPlanned:
			st.SetFlag("all_planned", true)
		}
	}

	// Anything deferred earlier gets another conflict check first, in
	// arrival order, then the new items.
	queue := deferredItems(st)
	queue = append(queue, arrivals...)
	st.SetNote("deferred", "")

	inFlight := activeTouches(ctx)
	for _, it := range queue {
		if conflicts(it.touches, inFlight) {
			deferItem(st, it)
			continue
		}
		consumer := &models.Task{
			Subject:     "consume-" + it.name,
			Owner:       "integrator",
			Description: fmt.Sprintf("Consume item %q (artifact %s).", it.name, it.artifact),
		}
		consumer.SetMeta(models.MetaItem, it.name)
		consumer.SetMeta(models.MetaArtifact, it.artifact)
		consumer.SetMeta(models.MetaTouches, strings.Join(it.touches, ","))
		d.FollowUps = append(d.FollowUps, consumer)
		for _, r := range it.touches {
			inFlight[r] = true
		}
	}

	for _, t := range ctx.Tasks {
		if t.Status != models.TaskStatusBlocked {
			continue
		}
		if t.Subject == "produce" {
			retryBlocked(t, b.cfg.MaxRetries, st, &d)
			if d.Escalate != nil {
				return d, nil
			}
			continue
		}
		// A failed item never blocks independent items: retry it a few
		// times, then drop just that item.
		if t.RetryCount < b.cfg.MaxRetries {
			d.Changes = append(d.Changes, TaskChange{
				TaskID:         t.ID,
				Status:         models.TaskStatusPending,
				IncrementRetry: true,
			})
			continue
		}
		reason := fmt.Sprintf("item %s dropped after %d attempts", t.Meta(models.MetaItem), t.RetryCount)
		st.Diagnosis = append(st.Diagnosis, reason)
		d.Changes = append(d.Changes, TaskChange{
			TaskID: t.ID,
			Status: models.TaskStatusSkipped,
			Meta:   map[string]string{models.MetaFailReason: reason},
		})
	}

	d.Spawn = spawnPending(ctx)

	if st.Flag("all_planned") && len(d.FollowUps) == 0 && st.Note("deferred") == "" && allTerminal(ctx) {
		d.Done = true
		if len(st.Diagnosis) == 0 {
			d.Verdict = models.VerdictApprove
		} else {
			d.Verdict = models.VerdictConditional
		}
	}
	return d, nil
}

// activeTouches collects the touched resources of consumers still in flight.
func activeTouches(ctx Context) map[string]bool {
	out := make(map[string]bool)
	for _, t := range ctx.Tasks {
		if !strings.HasPrefix(t.Subject, "consume-") || t.Status.Terminal() {
			continue
		}
		for _, r := range strings.Split(t.Meta(models.MetaTouches), ",") {
			if r = strings.TrimSpace(r); r != "" {
				out[r] = true
			}
		}
	}
	return out
}

func conflicts(touches []string, inFlight map[string]bool) bool {
	for _, r := range touches {
		if inFlight[r] {
			return true
		}
	}
	return false
}

// deferItem parks an item whose resources conflict with in-flight work.
// Entries are encoded name|artifact|touches, one per line.
func deferItem(st *State, it item) {
	entry := it.name + "|" + it.artifact + "|" + strings.Join(it.touches, ",")
	if cur := st.Note("deferred"); cur != "" {
		entry = cur + "\n" + entry
	}
	st.SetNote("deferred", entry)
}

func deferredItems(st *State) []item {
	raw := st.Note("deferred")
	if raw == "" {
		return nil
	}
	var out []item
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		it := item{name: parts[0], artifact: parts[1]}
		for _, r := range strings.Split(parts[2], ",") {
			if r != "" {
				it.touches = append(it.touches, r)
			}
		}
		out = append(out, it)
	}
	return out
}
