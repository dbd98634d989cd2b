package worker

import (
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

const sampleReport = `## Summary
Implemented the session store.
Verdict: CONDITIONAL
Confidence: 0.85
Touches: internal/state, pkg/models

## Findings
- missing index on sessions.status
- error paths not covered

## Proposed Changes
Add the index in the next migration.

## Tests
All store tests pass.

## Open Questions
- should snapshots be compressed?
`

func TestParseReportSections(t *testing.T) {
	r := ParseReport(sampleReport)

	if r.Summary == "" {
		t.Fatal("summary not parsed")
	}
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d: %v", len(r.Findings), r.Findings)
	}
	if r.ProposedChanges == "" {
		t.Error("proposed changes not parsed")
	}
	if r.Tests == "" {
		t.Error("tests section not parsed")
	}
	if len(r.OpenQuestions) != 1 {
		t.Errorf("expected 1 open question, got %d", len(r.OpenQuestions))
	}
}

func TestParseReportDirectives(t *testing.T) {
	r := ParseReport(sampleReport)

	if got := r.Verdict(); got != models.VerdictConditional {
		t.Errorf("verdict = %q, want CONDITIONAL", got)
	}
	if got := r.Confidence(); got != 0.85 {
		t.Errorf("confidence = %v, want 0.85", got)
	}
	touches := r.Touches()
	if len(touches) != 2 || touches[0] != "internal/state" {
		t.Errorf("touches = %v", touches)
	}
}

func TestParseReportBare(t *testing.T) {
	r := ParseReport("just a plain answer")
	if r.Summary != "just a plain answer" {
		t.Errorf("bare text should become the summary, got %q", r.Summary)
	}
	if r.Verdict() != "" {
		t.Errorf("no verdict expected, got %q", r.Verdict())
	}
}

func TestParseReportUnknownVerdict(t *testing.T) {
	r := ParseReport("Verdict: MAYBE")
	if r.Verdict() != "" {
		t.Errorf("unknown verdict must map to empty, got %q", r.Verdict())
	}
}

func TestParseReportVote(t *testing.T) {
	r := ParseReport("## Summary\nconsidered it\nVote: REJECT")
	if r.Vote() != models.VerdictReject {
		t.Errorf("vote = %q, want REJECT", r.Vote())
	}
}

func TestConfidenceOutOfRange(t *testing.T) {
	if c := ParseReport("Confidence: 1.5").Confidence(); c != 0 {
		t.Errorf("out-of-range confidence should be 0, got %v", c)
	}
}
