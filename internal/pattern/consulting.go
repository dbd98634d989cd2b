package pattern

import (
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Consulting lets a working agent pause mid-round and ask for advice without
// transferring ownership. Advice is applied when the consultant's confidence
// clears the threshold; otherwise one second opinion is taken, then the
// request escalates.
type Consulting struct {
	cfg Config
}

// Name implements Engine.
func (c *Consulting) Name() string { return "consulting" }

// Plan creates the single working task. Consultants are created on demand.
func (c *Consulting) Plan(requirements string) []*models.Task {
	return []*models.Task{
		{Subject: "work", Owner: "builder", Description: requirements},
	}
}

// Decide implements Engine. Consult requests arrive as messages from a
// worker that is now awaiting a continuation; the engine answers by telling
// the coordinator to continue that worker with the advice.
func (c *Consulting) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	// New consult requests open a consultant task each.
	for _, m := range ctx.Messages {
		if m.Type != models.MessageConsultRequest {
			continue
		}
		n := st.Bump("consults")
		subject := fmt.Sprintf("consult-%d", n)
		st.SetNote(subject+":requester", m.From)
		st.SetNote(subject+":question", m.Payload)
		d.FollowUps = append(d.FollowUps, &models.Task{
			Subject:     subject,
			Owner:       "consultant",
			Description: "Answer the consult request with a confidence score:\n" + m.Payload,
		})
		d.Note = fmt.Sprintf("consult request from %s", m.From)
	}

	// Finished consultants either answer the requester or trigger a second
	// opinion / escalation.
	for _, t := range ctx.Tasks {
		if t.Owner != "consultant" || t.Status != models.TaskStatusCompleted || st.Flag("answered:"+t.ID) {
			continue
		}
		st.SetFlag("answered:"+t.ID, true)

		origin := consultOrigin(st, t.Subject)
		requester := st.Note(origin + ":requester")
		question := st.Note(origin + ":question")

		if confidenceOf(t) >= c.cfg.ConfidenceThreshold {
			advice := t.Meta(models.MetaSummary)
			if f := t.Meta(models.MetaFindings); f != "" {
				advice += "\n" + f
			}
			d.Continue = append(d.Continue, Continuation{WorkerID: requester, Message: advice})
			d.Note = fmt.Sprintf("%s answered with confidence %.2f", t.Subject, confidenceOf(t))
			continue
		}

		if st.Counter("opinions:"+origin) < 1 {
			st.Bump("opinions:" + origin)
			second := t.Subject + "-second"
			st.SetNote(second+":origin", origin)
			d.FollowUps = append(d.FollowUps, &models.Task{
				Subject:     second,
				Owner:       "consultant",
				Description: "Second opinion requested (low confidence on the first):\n" + question,
			})
			d.Note = fmt.Sprintf("second opinion for %s", origin)
			continue
		}

		d.Escalate = &Escalation{
			TaskID:    t.ID,
			Reason:    fmt.Sprintf("no consultant reached confidence %.2f for %s", c.cfg.ConfidenceThreshold, origin),
			Diagnosis: st.Diagnosis,
		}
		return d, nil
	}

	work := ctx.BySubject("work")
	if work != nil && work.Status == models.TaskStatusBlocked {
		retryBlocked(work, c.cfg.MaxRetries, st, &d)
		if d.Escalate != nil {
			return d, nil
		}
	}

	d.Spawn = spawnPending(ctx)
	if allTerminal(ctx) {
		d.Done = true
		d.Verdict = models.VerdictApprove
	}
	return d, nil
}

// consultOrigin maps a consultant subject (possibly a -second follow-up)
// back to the originating consult.
func consultOrigin(st *State, subject string) string {
	if origin := st.Note(subject + ":origin"); origin != "" {
		return origin
	}
	return subject
}
