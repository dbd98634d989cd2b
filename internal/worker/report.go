package worker

import (
	"strconv"
	"strings"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Report is the parsed structured output of one worker round.
// Workers emit markdown with mandatory Summary and Findings/Deliverables
// sections plus optional Proposed Changes, Tests, and Open Questions, so
// every collaboration pattern can parse results uniformly.
type Report struct {
	// Summary is the mandatory summary section.
	Summary string
	// Findings holds the bullet items of the Findings or Deliverables section.
	Findings []string
	// ProposedChanges is the optional Proposed Changes section body.
	ProposedChanges string
	// Tests is the optional Tests section body.
	Tests string
	// OpenQuestions holds the bullet items of the Open Questions section.
	OpenQuestions []string
	// Fields holds "Key: value" directive lines (Verdict, Vote, Confidence,
	// Touches, Interface, Artifact, Item...), keyed lowercase.
	Fields map[string]string
	// Raw is the unparsed report text.
	Raw string
}

// directiveKeys are the machine-readable lines patterns look for.
var directiveKeys = map[string]bool{
	"verdict":    true,
	"vote":       true,
	"confidence": true,
	"touches":    true,
	"interface":  true,
	"artifact":   true,
	"item":       true,
	"gate":       true,
	"blocked":    true,
	"consult":    true,
}

// ParseReport parses the raw structured output of a worker round.
// It never fails: missing sections yield zero values and patterns fall back
// to task store status as ground truth.
func ParseReport(text string) *Report {
	r := &Report{Fields: make(map[string]string), Raw: text}

	section := ""
	var body strings.Builder
	flush := func() {
		content := strings.TrimSpace(body.String())
		body.Reset()
		switch section {
		case "summary":
			r.Summary = content
		case "findings", "deliverables":
			r.Findings = append(r.Findings, bullets(content)...)
		case "proposed changes":
			r.ProposedChanges = content
		case "tests":
			r.Tests = content
		case "open questions":
			r.OpenQuestions = bullets(content)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if heading, ok := strings.CutPrefix(trimmed, "## "); ok {
			flush()
			section = strings.ToLower(strings.TrimSpace(heading))
			continue
		}

		if key, value, ok := strings.Cut(trimmed, ":"); ok {
			k := strings.ToLower(strings.TrimSpace(key))
			if directiveKeys[k] {
				r.Fields[k] = strings.TrimSpace(value)
				continue
			}
		}

		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	// A bare report without headings is treated as the summary.
	if r.Summary == "" && section == "" {
		r.Summary = strings.TrimSpace(text)
	}
	return r
}

// bullets extracts "- item" lines from a section body.
func bullets(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if item, ok := strings.CutPrefix(trimmed, "- "); ok {
			out = append(out, strings.TrimSpace(item))
		}
	}
	return out
}

// Field returns a directive value by key, case-insensitively.
func (r *Report) Field(key string) string {
	return r.Fields[strings.ToLower(key)]
}

// Verdict returns the declared verdict, or "" when absent or unknown.
func (r *Report) Verdict() models.Verdict {
	v := models.Verdict(strings.ToUpper(r.Field("verdict")))
	if !v.Valid() {
		return ""
	}
	return v
}

// Vote returns the declared ballot, or "" when absent or unknown.
func (r *Report) Vote() models.Verdict {
	v := models.Verdict(strings.ToUpper(r.Field("vote")))
	if !v.Valid() {
		return ""
	}
	return v
}

// Confidence returns the declared 0..1 confidence, or 0 when absent.
func (r *Report) Confidence() float64 {
	f, err := strconv.ParseFloat(r.Field("confidence"), 64)
	if err != nil || f < 0 || f > 1 {
		return 0
	}
	return f
}

// Touches returns the declared touched-resource list.
func (r *Report) Touches() []string {
	raw := r.Field("touches")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
