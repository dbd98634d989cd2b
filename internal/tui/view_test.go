package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Session: models.Session{
			ID: "session-ab12cd34", Pattern: "pipeline",
			Status: models.SessionActive,
			ActiveWorkers: []models.ActiveWorker{
				{WorkerID: "worker-1", TaskID: "t-2", Role: "builder"},
			},
		},
		Tasks: []*models.Task{
			{ID: "t-1", Seq: 1, Subject: "step-1", Owner: "builder", Status: models.TaskStatusCompleted},
			{ID: "t-2", Seq: 2, Subject: "step-2", Owner: "builder", Status: models.TaskStatusInProgress, BlockedBy: []string{"t-1"}},
			{ID: "t-3", Seq: 3, Subject: "step-3", Owner: "builder", Status: models.TaskStatusPending, BlockedBy: []string{"t-2"}},
		},
		Messages: []models.Message{
			{Seq: 1, From: "worker-0", To: "coordinator", Type: models.MessageTaskComplete, Payload: "## Summary\ndone", Timestamp: time.Now()},
		},
	}
}

func TestStatusGlyphs(t *testing.T) {
	tests := []struct {
		status models.TaskStatus
		ready  bool
		want   string
	}{
		{models.TaskStatusPending, false, "·"},
		{models.TaskStatusPending, true, "▷"},
		{models.TaskStatusInProgress, false, "●"},
		{models.TaskStatusCompleted, false, "✓"},
		{models.TaskStatusBlocked, false, "✗"},
		{models.TaskStatusSkipped, false, "○"},
	}
	for _, tt := range tests {
		if got := statusGlyph(tt.status, tt.ready); got != tt.want {
			t.Errorf("statusGlyph(%s, ready=%v) = %q, want %q", tt.status, tt.ready, got, tt.want)
		}
	}
}

func TestRenderTasksShowsDependenciesBySubject(t *testing.T) {
	out := renderTasks(testSnapshot().Tasks)

	if !strings.Contains(out, "step-2") {
		t.Fatal("task panel lacks step-2")
	}
	// Dependencies render as subjects, not raw task IDs.
	if !strings.Contains(out, "← step-1") {
		t.Errorf("step-2 row should name its dependency by subject:\n%s", out)
	}
	if strings.Contains(out, "← t-1") {
		t.Errorf("task panel leaks raw task IDs:\n%s", out)
	}
}

func TestRenderTaskRowShowsFailureAndRetries(t *testing.T) {
	task := &models.Task{
		ID: "t-9", Subject: "step-9", Owner: "builder",
		Status:     models.TaskStatusBlocked,
		RetryCount: 2,
		Metadata:   map[string]string{models.MetaFailReason: "missing schema"},
	}
	row := renderTaskRow(task, false, map[string]string{})
	if !strings.Contains(row, "missing schema") {
		t.Errorf("blocked row lacks the failure reason: %q", row)
	}
	if !strings.Contains(row, "retry 2") {
		t.Errorf("row lacks the retry count: %q", row)
	}
}

func TestRenderMessagesTruncatesPayloadToFirstLine(t *testing.T) {
	msgs := []models.Message{
		{Seq: 7, From: "worker-1", To: "coordinator", Type: models.MessageTaskComplete,
			Payload: "first line\nsecond line", Timestamp: time.Now()},
	}
	out := renderMessages(msgs, 0)
	if !strings.Contains(out, "first line") {
		t.Errorf("log lacks the payload first line:\n%s", out)
	}
	if strings.Contains(out, "second line") {
		t.Errorf("log should not render past the first payload line:\n%s", out)
	}
}

func TestModelFetchesOnTick(t *testing.T) {
	calls := 0
	fetch := func() (*Snapshot, error) {
		calls++
		return testSnapshot(), nil
	}
	m := NewModel(fetch, 10*time.Millisecond)

	cmd := m.fetchCmd()
	msg := cmd()
	snap, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("fetch produced %T, want snapshotMsg", msg)
	}
	if snap.err != nil || snap.snap == nil {
		t.Fatalf("unexpected snapshot result: %+v", snap)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}

	next, _ := m.Update(snap)
	model := next.(Model)
	if model.snap == nil {
		t.Fatal("model did not store the snapshot")
	}
	view := model.View()
	if !strings.Contains(view, "session-ab12cd34") {
		t.Errorf("view lacks the session ID:\n%s", view)
	}
	if !strings.Contains(view, "pipeline") {
		t.Errorf("view lacks the pattern name:\n%s", view)
	}
}

func TestModelSurfacesFetchError(t *testing.T) {
	fetch := func() (*Snapshot, error) { return nil, errors.New("database locked") }
	m := NewModel(fetch, time.Second)

	msg := m.fetchCmd()()
	next, _ := m.Update(msg)
	view := next.(Model).View()
	if !strings.Contains(view, "database locked") {
		t.Errorf("view lacks the fetch error:\n%s", view)
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel(func() (*Snapshot, error) { return testSnapshot(), nil }, time.Second)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q did not quit the watch view")
	}
}
