package pattern

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// sim drives an engine the way the coordinator does: snapshot, decide, apply.
// Spawned tasks move straight to in_progress; the test then completes or
// blocks them by subject to script worker results.
type sim struct {
	t       rapid.TB
	eng     Engine
	st      *State
	tasks   []*models.Task
	nextSeq int
	inbox   []models.Message
	last    Decision
}

func newSim(t rapid.TB, eng Engine, requirements string) *sim {
	t.Helper()
	s := &sim{t: t, eng: eng, st: NewState()}
	for _, task := range eng.Plan(requirements) {
		s.create(task)
	}
	return s
}

func (s *sim) create(task *models.Task) {
	s.t.Helper()
	cp := task.Clone()
	cp.ID = fmt.Sprintf("t-%d", s.nextSeq)
	cp.Seq = s.nextSeq
	cp.Status = models.TaskStatusPending
	s.nextSeq++

	// Resolve subject references in BlockedBy, matching coordinator behavior.
	for i, dep := range cp.BlockedBy {
		if ref := s.bySubject(dep); ref != nil {
			cp.BlockedBy[i] = ref.ID
		}
	}
	s.tasks = append(s.tasks, cp)
}

func (s *sim) byID(id string) *models.Task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *sim) bySubject(subject string) *models.Task {
	for _, t := range s.tasks {
		if t.Subject == subject {
			return t
		}
	}
	return nil
}

func (s *sim) mustBySubject(subject string) *models.Task {
	s.t.Helper()
	t := s.bySubject(subject)
	if t == nil {
		s.t.Fatalf("no task with subject %q", subject)
	}
	return t
}

func (s *sim) ctx() Context {
	msgs := s.inbox
	s.inbox = nil
	return Context{
		Session:  &models.Session{ID: "s-test"},
		Tasks:    s.tasks,
		Ready:    graph.ReadySet(s.tasks),
		Messages: msgs,
	}
}

// step runs one decide/apply cycle and returns the decision.
func (s *sim) step() Decision {
	s.t.Helper()
	d, err := s.eng.Decide(s.ctx(), s.st)
	if err != nil {
		s.t.Fatalf("decide: %v", err)
	}
	s.apply(d)
	s.last = d
	return d
}

// settle steps until the engine produces an empty decision, Done, or an
// escalation, bounded to catch non-terminating strategies.
func (s *sim) settle() Decision {
	s.t.Helper()
	for i := 0; i < 50; i++ {
		d := s.step()
		if d.Done || d.Escalate != nil || d.Empty() {
			return d
		}
	}
	s.t.Fatal("engine did not settle within 50 steps")
	return Decision{}
}

func (s *sim) apply(d Decision) {
	s.t.Helper()
	for _, f := range d.FollowUps {
		if s.bySubject(f.Subject) != nil {
			s.t.Fatalf("duplicate follow-up subject %q", f.Subject)
		}
		s.create(f)
	}
	for _, e := range d.Edges {
		t := s.byID(e.TaskID)
		dep := s.byID(e.DependsOn)
		if dep == nil {
			dep = s.mustBySubject(e.DependsOn)
		}
		t.BlockedBy = append(t.BlockedBy, dep.ID)
	}
	for _, c := range d.Changes {
		t := s.byID(c.TaskID)
		if t == nil {
			s.t.Fatalf("change for unknown task %q", c.TaskID)
		}
		if c.Status != "" {
			if !t.Status.CanTransition(c.Status) {
				s.t.Fatalf("engine requested invalid transition %s -> %s on %s", t.Status, c.Status, t.Subject)
			}
			t.Status = c.Status
		}
		if c.IncrementRetry {
			t.RetryCount++
		}
		for k, v := range c.Meta {
			t.SetMeta(k, v)
		}
	}
	for _, id := range d.Spawn {
		t := s.byID(id)
		if t == nil {
			s.t.Fatalf("spawn for unknown task %q", id)
		}
		if t.Status == models.TaskStatusPending {
			t.Status = models.TaskStatusInProgress
		}
	}
}

// complete finishes an in-progress task with the given metadata.
func (s *sim) complete(subject string, meta map[string]string) {
	s.t.Helper()
	t := s.mustBySubject(subject)
	if t.Status != models.TaskStatusInProgress {
		s.t.Fatalf("complete %q: status %s, want in_progress", subject, t.Status)
	}
	t.Status = models.TaskStatusCompleted
	for k, v := range meta {
		t.SetMeta(k, v)
	}
}

// block fails an in-progress task with a reason.
func (s *sim) block(subject, reason string) {
	s.t.Helper()
	t := s.mustBySubject(subject)
	if t.Status != models.TaskStatusInProgress {
		s.t.Fatalf("block %q: status %s, want in_progress", subject, t.Status)
	}
	t.Status = models.TaskStatusBlocked
	t.SetMeta(models.MetaFailReason, reason)
}

func (s *sim) send(m models.Message) {
	s.inbox = append(s.inbox, m)
}

func TestRegistry(t *testing.T) {
	for _, name := range Names() {
		eng, err := New(name, Config{})
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if eng.Name() != name {
			t.Errorf("engine for %q reports name %q", name, eng.Name())
		}
		if tasks := eng.Plan("build the thing"); len(tasks) == 0 {
			t.Errorf("%q planned no tasks", name)
		}
	}

	if _, err := New("holacracy", Config{}); err == nil {
		t.Error("unknown pattern must be rejected")
	}
	if Valid("holacracy") {
		t.Error("Valid must reject unknown names")
	}
}

func TestPipelineHappyPath(t *testing.T) {
	eng, _ := New("pipeline", Config{})
	s := newSim(t, eng, "add a cache layer")

	for _, subject := range []string{"plan", "implement", "verify", "review"} {
		s.step()
		task := s.mustBySubject(subject)
		if task.Status != models.TaskStatusInProgress {
			t.Fatalf("%s not spawned in dependency order (status %s)", subject, task.Status)
		}
		s.complete(subject, nil)
	}

	d := s.step()
	if !d.Done || d.Verdict != models.VerdictApprove {
		t.Fatalf("expected done+approve, got %+v", d)
	}
}

func TestPipelineFixFollowUpThenEscalate(t *testing.T) {
	cfg := Config{MaxRetries: 2}
	eng, _ := New("pipeline", cfg)
	s := newSim(t, eng, "one; two")

	for attempt := 1; attempt <= 2; attempt++ {
		s.step()
		s.block("step-1", "compile error")
		d := s.step()
		if len(d.FollowUps) != 1 {
			t.Fatalf("attempt %d: expected a fix follow-up, got %+v", attempt, d.FollowUps)
		}
		fix := d.FollowUps[0].Subject
		s.step()
		s.complete(fix, nil)
	}

	// Third failure exceeds the budget.
	s.step()
	s.block("step-1", "still broken")
	d := s.step()
	if d.Escalate == nil {
		t.Fatal("expected escalation after the retry budget")
	}
	if d.Escalate.TaskID != s.mustBySubject("step-1").ID {
		t.Errorf("escalation names task %q", d.Escalate.TaskID)
	}
	if len(d.Escalate.Diagnosis) == 0 {
		t.Error("escalation must carry the diagnosis chain")
	}
}
