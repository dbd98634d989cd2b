package task

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

type fakeRoles map[string]bool

func (f fakeRoles) Known(role string) bool { return f[role] }

func newTask(subject, owner string, deps ...string) *models.Task {
	return &models.Task{Subject: subject, Owner: owner, BlockedBy: deps}
}

func TestStoreCreateAssignsIDAndSeq(t *testing.T) {
	s := NewStore(nil)

	id1, err := s.Create(newTask("plan", "planner"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := s.Create(newTask("build", "builder", id1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t1, _ := s.Get(id1)
	t2, _ := s.Get(id2)
	if t1.Seq >= t2.Seq {
		t.Errorf("expected creation order seq, got %d then %d", t1.Seq, t2.Seq)
	}
	if t1.Status != models.TaskStatusPending {
		t.Errorf("expected pending default status, got %s", t1.Status)
	}
}

func TestStoreCreateDuplicateSubject(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Create(newTask("plan", "planner")); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := s.Create(newTask("plan", "planner"))
	if !errors.Is(err, ErrDuplicateSubject) {
		t.Errorf("expected ErrDuplicateSubject, got %v", err)
	}
}

func TestStoreCreateUnknownOwner(t *testing.T) {
	s := NewStore(fakeRoles{"builder": true})

	if _, err := s.Create(newTask("build", "builder")); err != nil {
		t.Fatalf("create with known owner: %v", err)
	}
	_, err := s.Create(newTask("mystery", "wizard"))
	if !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("expected ErrUnknownOwner, got %v", err)
	}
}

func TestStoreCreateUnknownDependency(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Create(newTask("build", "builder", "nope"))
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestStoreAddDependencyRejectsCycle(t *testing.T) {
	s := NewStore(nil)
	a, _ := s.Create(newTask("a", "builder"))
	b, _ := s.Create(newTask("b", "builder", a))
	c, _ := s.Create(newTask("c", "builder", b))

	// c depends on b depends on a; closing a -> c is a cycle.
	err := s.AddDependency(a, c)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}

	// The rejected edge must not have been applied.
	ta, _ := s.Get(a)
	if len(ta.BlockedBy) != 0 {
		t.Errorf("rejected edge leaked into task: %v", ta.BlockedBy)
	}
}

func TestStoreUpdateValidatesTransitions(t *testing.T) {
	s := NewStore(nil)
	id, _ := s.Create(newTask("build", "builder"))

	// pending -> completed is not allowed.
	err := s.Update(id, StatusUpdate(models.TaskStatusCompleted))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := s.Update(id, StatusUpdate(models.TaskStatusInProgress)); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	if err := s.Update(id, StatusUpdate(models.TaskStatusCompleted)); err != nil {
		t.Fatalf("in_progress -> completed: %v", err)
	}

	got, _ := s.Get(id)
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on terminal status")
	}

	// Terminal statuses admit no further transitions.
	err = s.Update(id, StatusUpdate(models.TaskStatusPending))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition out of completed, got %v", err)
	}
}

func TestStoreIsReady(t *testing.T) {
	s := NewStore(nil)
	a, _ := s.Create(newTask("a", "builder"))
	b, _ := s.Create(newTask("b", "builder", a))

	if !s.IsReady(a) {
		t.Error("a has no deps, should be ready")
	}
	if s.IsReady(b) {
		t.Error("b depends on pending a, should not be ready")
	}

	s.Update(a, StatusUpdate(models.TaskStatusInProgress))
	if s.IsReady(a) {
		t.Error("in_progress task should not be ready")
	}

	s.Update(a, StatusUpdate(models.TaskStatusCompleted))
	if !s.IsReady(b) {
		t.Error("b's only dep completed, should be ready")
	}
}

func TestStoreIsReadySkippedSatisfies(t *testing.T) {
	s := NewStore(nil)
	a, _ := s.Create(newTask("a", "builder"))
	b, _ := s.Create(newTask("b", "builder", a))

	s.Update(a, StatusUpdate(models.TaskStatusSkipped))
	if !s.IsReady(b) {
		t.Error("skipped dependency should satisfy the edge")
	}
}

func TestStoreListFilter(t *testing.T) {
	s := NewStore(nil)
	s.Create(newTask("a", "builder"))
	s.Create(newTask("b", "reviewer"))
	s.Create(newTask("c", "builder"))

	builders := s.List(Filter{Owner: "builder"})
	if len(builders) != 2 {
		t.Fatalf("expected 2 builder tasks, got %d", len(builders))
	}
	if builders[0].Subject != "a" || builders[1].Subject != "c" {
		t.Errorf("expected creation order a, c; got %s, %s", builders[0].Subject, builders[1].Subject)
	}
}

func TestStoreRestoreRoundTrip(t *testing.T) {
	s := NewStore(nil)
	a, _ := s.Create(newTask("a", "builder"))
	s.Create(newTask("b", "builder", a))

	snap := s.Snapshot()

	restored := NewStore(nil)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Size() != 2 {
		t.Fatalf("expected 2 tasks after restore, got %d", restored.Size())
	}

	// Subsequent creates must not collide with restored sequence numbers.
	id, err := restored.Create(newTask("c", "builder"))
	if err != nil {
		t.Fatalf("create after restore: %v", err)
	}
	c, _ := restored.Get(id)
	if c.Seq != 2 {
		t.Errorf("expected seq 2 after restore, got %d", c.Seq)
	}
}
