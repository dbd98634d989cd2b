package pattern

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func TestIncrementalHappyPath(t *testing.T) {
	eng, _ := New("incremental", Config{})
	s := newSim(t, eng, "parser; typechecker; emitter")

	for _, subject := range []string{"increment-1", "gate-1", "increment-2", "gate-2", "increment-3", "gate-3", "full-suite"} {
		s.step()
		if s.mustBySubject(subject).Status != models.TaskStatusInProgress {
			t.Fatalf("%s not spawned in layer order", subject)
		}
		s.complete(subject, nil)
	}

	d := s.step()
	if !d.Done || d.Verdict != models.VerdictApprove {
		t.Fatalf("expected done+approve, got %+v", d)
	}
}

func TestIncrementalGateRetryThenRollback(t *testing.T) {
	eng, _ := New("incremental", Config{GateRetries: 1})
	s := newSim(t, eng, "parser; emitter")

	s.step()
	s.complete("increment-1", nil)
	s.step()
	s.block("gate-1", "regression in lexer")

	// First failure: a fix follow-up, then re-check.
	d := s.step()
	if len(d.FollowUps) != 1 || !strings.HasPrefix(d.FollowUps[0].Subject, "gate-1-fix") {
		t.Fatalf("expected a gate fix follow-up, got %+v", d.FollowUps)
	}
	s.step()
	s.complete(d.FollowUps[0].Subject, nil)
	s.step()
	s.block("gate-1", "regression persists")

	// Budget spent: roll back increment 1 only.
	s.step()
	if s.mustBySubject("gate-1").Status != models.TaskStatusSkipped {
		t.Fatal("exhausted gate must be skipped (rolled back)")
	}

	// Non-cascading: increment 2 still runs.
	s.step()
	if s.mustBySubject("increment-2").Status != models.TaskStatusInProgress {
		t.Fatal("rollback must not cascade to later increments")
	}
	s.complete("increment-2", nil)
	s.step()
	s.complete("gate-2", nil)
	s.step()
	s.complete("full-suite", nil)

	d = s.step()
	if !d.Done || d.Verdict != models.VerdictConditional {
		t.Fatalf("a rolled-back increment must downgrade the verdict, got %+v", d)
	}
}
