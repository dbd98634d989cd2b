package pattern

import (
	"fmt"
	"math"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Consensus broadcasts a proposal to a fixed set of voters and tallies their
// ballots against the quorum ratio. One bounded re-proposal round is allowed;
// a wait timeout tallies the votes received so far.
type Consensus struct {
	cfg Config
}

// Name implements Engine.
func (c *Consensus) Name() string { return "consensus" }

// Plan creates the proposal and its voter tasks for round one.
func (c *Consensus) Plan(requirements string) []*models.Task {
	return c.roundTasks(1, requirements)
}

// roundTasks builds the proposal/ballot set for one voting round.
func (c *Consensus) roundTasks(round int, description string) []*models.Task {
	proposal := fmt.Sprintf("proposal-%d", round)
	tasks := []*models.Task{
		{Subject: proposal, Owner: "planner", Description: description},
	}
	for i := 1; i <= c.cfg.VoterCount; i++ {
		tasks = append(tasks, &models.Task{
			Subject:     fmt.Sprintf("ballot-%d-%d", round, i),
			Owner:       "reviewer",
			Description: "Vote APPROVE or REJECT on the proposal.",
			BlockedBy:   []string{proposal},
		})
	}
	return tasks
}

// quorumNeeded converts the quorum ratio into a vote count using
// nearest-vote rounding, so 2 approvals out of 3 voters pass a 0.67 quorum.
func quorumNeeded(ratio float64, total int) int {
	needed := int(math.Round(ratio * float64(total)))
	if needed < 1 {
		needed = 1
	}
	return needed
}

// Decide implements Engine. The coordinator sets the "timeout" flag when a
// bounded wait on the voters expires; the tally then counts received votes
// only.
func (c *Consensus) Decide(ctx Context, st *State) (Decision, error) {
	var d Decision

	round := st.Iteration + 1
	proposal := ctx.BySubject(fmt.Sprintf("proposal-%d", round))
	if proposal != nil && proposal.Status == models.TaskStatusBlocked {
		retryBlocked(proposal, c.cfg.MaxRetries, st, &d)
		if d.Escalate != nil {
			return d, nil
		}
	}

	prefix := fmt.Sprintf("ballot-%d-", round)
	var ballots []*models.Task
	for _, t := range ctx.Tasks {
		if strings.HasPrefix(t.Subject, prefix) {
			ballots = append(ballots, t)
		}
	}

	settled := len(ballots) > 0
	for _, b := range ballots {
		if !b.Status.Terminal() {
			settled = false
		}
	}
	timeout := st.Flag("timeout")

	if (settled || timeout) && !st.Flag(fmt.Sprintf("tallied:%d", round)) {
		st.SetFlag(fmt.Sprintf("tallied:%d", round), true)
		st.SetFlag("timeout", false)

		approvals, received := 0, 0
		for _, b := range ballots {
			v := verdictOf(b)
			if b.Status == models.TaskStatusCompleted && v != "" {
				received++
				if v.Accepting() {
					approvals++
				}
			}
		}
		total := len(ballots)
		if timeout {
			total = received
		}
		needed := quorumNeeded(c.cfg.QuorumRatio, total)

		if total > 0 && approvals >= needed {
			d.Done = true
			d.Verdict = models.VerdictApprove
			d.Note = fmt.Sprintf("quorum reached: %d/%d approvals (needed %d)", approvals, total, needed)
			return d, nil
		}

		tally := fmt.Sprintf("round %d: %d/%d approvals, needed %d", round, approvals, total, needed)
		st.Diagnosis = append(st.Diagnosis, tally)

		if round >= c.cfg.ProposalRounds {
			return Decision{}, fmt.Errorf("%w: %s", ErrQuorumNotReached, tally)
		}

		// Re-propose once, carrying the rejection context forward.
		st.Iteration++
		desc := proposalDescription(proposal) + "\n\nPrevious round was rejected; revise the proposal."
		d.FollowUps = append(d.FollowUps, c.roundTasks(st.Iteration+1, desc)...)
	}

	d.Spawn = spawnPending(ctx)
	return d, nil
}

func proposalDescription(t *models.Task) string {
	if t == nil {
		return ""
	}
	return t.Description
}
