package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/ensemble/internal/roles"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

func testStateDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// interruptedSession dispatches a pipeline whose workers never report, then
// abandons the coordinator, leaving an in-flight session in the database.
func interruptedSession(t *testing.T, db *state.DB) string {
	t.Helper()
	c := New(silentFactory{}, roles.NewRegistry(), WithStateDB(db))
	sess, err := c.Dispatch("pipeline", "first part; second part")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return sess.ID
}

func TestLoadRestoresSession(t *testing.T) {
	db := testStateDB(t)
	id := interruptedSession(t, db)

	c := New(silentFactory{}, roles.NewRegistry(), WithStateDB(db))
	if err := c.Load(id); err != nil {
		t.Fatalf("load: %v", err)
	}

	sess := c.Session()
	if sess.ID != id {
		t.Fatalf("loaded session %s, want %s", sess.ID, id)
	}
	if sess.Status != models.SessionActive {
		t.Errorf("status = %s, want active", sess.Status)
	}
	view, err := c.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(view.Tasks) != 2 {
		t.Fatalf("restored %d tasks, want 2", len(view.Tasks))
	}
	if step1 := taskBySubject(t, c, "step-1"); step1.Status != models.TaskStatusInProgress {
		t.Errorf("step-1 status = %s, want in_progress before reconciliation", step1.Status)
	}

	// A second load on the same coordinator must fail.
	if err := c.Load(id); err == nil {
		t.Error("expected second load to fail")
	}
}

func TestLoadUnknownSessionFails(t *testing.T) {
	db := testStateDB(t)
	c := New(silentFactory{}, roles.NewRegistry(), WithStateDB(db))
	if err := c.Load("session-missing"); err == nil {
		t.Fatal("expected load of unknown session to fail")
	}
}

func TestLoadWithoutDatabaseFails(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())
	if err := c.Load("session-x"); err == nil {
		t.Fatal("expected load without a state database to fail")
	}
}

func TestReconcileResetsOrphanedTask(t *testing.T) {
	db := testStateDB(t)
	id := interruptedSession(t, db)

	c := testCoordinator(t, completeAll, WithStateDB(db))
	if err := c.Load(id); err != nil {
		t.Fatalf("load: %v", err)
	}

	// The recorded worker has no live handle in the new pool and no PID to
	// probe, so its task must be reset for re-dispatch.
	mutations, err := c.Reconcile()
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if mutations != 1 {
		t.Errorf("mutations = %d, want 1", mutations)
	}
	if step1 := taskBySubject(t, c, "step-1"); step1.Status != models.TaskStatusPending {
		t.Errorf("step-1 status = %s, want pending", step1.Status)
	}
	if got := len(c.Session().ActiveWorkers); got != 0 {
		t.Errorf("active workers = %d after reconcile, want 0", got)
	}

	// Reconciling an already-consistent session performs zero mutations.
	mutations, err = c.Reconcile()
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if mutations != 0 {
		t.Errorf("second reconcile mutations = %d, want 0", mutations)
	}

	// The session resumes normally after repair.
	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })
}

func TestReconcileRecreatesLostTaskWithCanonicalEdges(t *testing.T) {
	db := testStateDB(t)
	id := interruptedSession(t, db)

	// Simulate snapshot corruption: the step-1 row is lost, leaving step-2
	// with a dangling dependency on a task ID that no longer exists.
	snap, err := db.LoadSnapshot(id)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	var survivors []*models.Task
	for _, task := range snap.Tasks {
		if task.Subject != "step-1" {
			survivors = append(survivors, task)
		}
	}
	if err := db.SaveTasks(id, survivors); err != nil {
		t.Fatalf("save tampered snapshot: %v", err)
	}

	c := testCoordinator(t, completeAll, WithStateDB(db))
	if err := c.Load(id); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Three repairs: prune the dangling edge, recreate step-1, restore the
	// step-2 -> step-1 edge.
	mutations, err := c.Reconcile()
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if mutations != 3 {
		t.Errorf("mutations = %d, want 3", mutations)
	}

	step1 := taskBySubject(t, c, "step-1")
	if step1 == nil {
		t.Fatal("step-1 was not recreated")
	}
	if step1.Status != models.TaskStatusPending {
		t.Errorf("recreated step-1 status = %s, want pending", step1.Status)
	}
	step2 := taskBySubject(t, c, "step-2")
	if len(step2.BlockedBy) != 1 || step2.BlockedBy[0] != step1.ID {
		t.Errorf("step-2 blocked by %v, want [%s]", step2.BlockedBy, step1.ID)
	}

	mutations, err = c.Reconcile()
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if mutations != 0 {
		t.Errorf("second reconcile mutations = %d, want 0", mutations)
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })
}

func TestFindInterruptedListsAbandonedSession(t *testing.T) {
	db := testStateDB(t)
	id := interruptedSession(t, db)

	interrupted, err := db.FindInterrupted()
	if err != nil {
		t.Fatalf("find interrupted: %v", err)
	}
	if len(interrupted) != 1 {
		t.Fatalf("interrupted sessions = %d, want 1", len(interrupted))
	}
	got := interrupted[0]
	if got.SessionID != id {
		t.Errorf("session = %s, want %s", got.SessionID, id)
	}
	if got.Pattern != "pipeline" {
		t.Errorf("pattern = %s, want pipeline", got.Pattern)
	}
	if got.PendingTasks == 0 {
		t.Error("expected pending tasks on the interrupted session")
	}
	if time.Since(got.CreatedAt) > time.Minute {
		t.Errorf("created at %v looks wrong", got.CreatedAt)
	}
}
