package retro

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "retro.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReportRoundTrip(t *testing.T) {
	s := testStore(t)

	r := &Report{
		SessionID: "s-1",
		Pattern:   "post-mortem",
		Summary:   "2 findings from 3 participants",
		Findings:  []string{"flaky gate on step-2", "missing timeout on consult"},
		Partial:   true,
	}
	if err := s.SaveReport(r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if r.ID == "" {
		t.Fatal("save must assign an ID")
	}

	got, err := s.GetReport("s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != r.Summary || !got.Partial {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if len(got.Findings) != 2 || got.Findings[0] != "flaky gate on step-2" {
		t.Errorf("findings lost: %v", got.Findings)
	}

	if _, err := s.GetReport("missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestListReportsNewestFirst(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		if err := s.SaveReport(&Report{SessionID: id, Pattern: "post-mortem"}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	all, err := s.ListReports(0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %d reports, %v", len(all), err)
	}
	two, err := s.ListReports(2)
	if err != nil || len(two) != 2 {
		t.Fatalf("list limited: %d reports, %v", len(two), err)
	}
}

func TestPromoteDeduplicates(t *testing.T) {
	s := testStore(t)

	if err := s.Promote("flaky gate on step-2", "s-1"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := s.Promote("flaky gate on step-2", "s-2"); err != nil {
		t.Fatalf("re-promote: %v", err)
	}
	if err := s.Promote("missing timeout on consult", "s-2"); err != nil {
		t.Fatalf("promote second: %v", err)
	}

	all, err := s.Patterns(1)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(all))
	}
	if all[0].Finding != "flaky gate on step-2" || all[0].Occurrences != 2 {
		t.Errorf("most frequent first: %+v", all[0])
	}

	repeated, err := s.Patterns(2)
	if err != nil || len(repeated) != 1 {
		t.Fatalf("min occurrences filter: %d patterns, %v", len(repeated), err)
	}
}
