package pattern

import (
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func TestEscalatorResolvesAtFirstLevel(t *testing.T) {
	eng, _ := New("escalation", Config{})
	s := newSim(t, eng, "unwedge the deploy")

	s.step()
	s.complete("level-1", nil)

	d := s.step()
	if !d.Done {
		t.Fatalf("expected done at level 1, got %+v", d)
	}
}

func TestEscalatorForwardsDiagnosisUpward(t *testing.T) {
	eng, _ := New("escalation", Config{LevelAttempts: 1, Levels: []string{"builder", "reviewer", "operator"}})
	s := newSim(t, eng, "unwedge the deploy")

	// Level 1: one retry, then exhaustion.
	s.step()
	s.block("level-1", "disk full")
	s.step() // retry
	s.step() // respawn
	s.block("level-1", "disk still full")
	s.step() // escalate to level 2

	level2 := s.mustBySubject("level-2")
	if level2.Owner != "reviewer" {
		t.Errorf("level 2 owner = %q, want reviewer", level2.Owner)
	}
	if !strings.Contains(level2.Description, "disk full") {
		t.Error("diagnosis chain was not forwarded to the next level")
	}
	if s.mustBySubject("level-1").Status != models.TaskStatusSkipped {
		t.Error("exhausted level must be skipped")
	}

	s.step()
	s.complete("level-2", nil)
	if d := s.step(); !d.Done {
		t.Fatalf("expected done at level 2, got %+v", d)
	}
}

func TestEscalatorExhaustion(t *testing.T) {
	eng, _ := New("escalation", Config{LevelAttempts: 1, Levels: []string{"builder", "operator"}})
	s := newSim(t, eng, "unwedge the deploy")

	fail := func(subject string) {
		s.step()
		s.block(subject, "no luck")
		s.step() // retry
		s.step() // respawn
		s.block(subject, "no luck twice")
	}

	fail("level-1")
	s.step() // escalates to level 2
	fail("level-2")

	_, err := s.eng.Decide(s.ctx(), s.st)
	if !errors.Is(err, ErrEscalationExhausted) {
		t.Fatalf("expected ErrEscalationExhausted, got %v", err)
	}
}

func TestEscalatorTerminalLevel(t *testing.T) {
	e := &Escalator{cfg: DefaultConfig()}
	levels := e.cfg.Levels
	if !e.TerminalLevel(&models.Task{Subject: "level-4"}) || len(levels) != 4 {
		t.Error("last configured level must be terminal")
	}
	if e.TerminalLevel(&models.Task{Subject: "level-1"}) {
		t.Error("first level is not terminal")
	}
}
