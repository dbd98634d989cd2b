package tui

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("error: "+m.err.Error()) + "\n" + footer()
	}
	if m.snap == nil {
		return m.spin.View() + " loading session...\n" + footer()
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(renderTasks(m.snap.Tasks))
	b.WriteString("\n")
	b.WriteString(panelTitle.Render("messages"))
	b.WriteString("\n")
	b.WriteString(m.log.View())
	b.WriteString("\n")
	b.WriteString(footer())
	return b.String()
}

// header renders the session line: id, pattern, status, worker count.
func (m Model) header() string {
	s := m.snap.Session
	parts := []string{
		titleStyle.Render("ensemble"),
		s.ID,
		dimStyle.Render("[" + s.Pattern + "]"),
		sessionStatusStyle(s.Status).Render(string(s.Status)),
	}
	if s.Checkpoint != "" {
		parts = append(parts, dimStyle.Render("checkpoint: "+s.Checkpoint))
	}
	if n := len(s.ActiveWorkers); n > 0 {
		parts = append(parts, fmt.Sprintf("%s %d workers", m.spin.View(), n))
	}
	return strings.Join(parts, "  ")
}

// renderTasks renders the dependency graph annotated with status, one task
// per line in creation order.
func renderTasks(tasks []*models.Task) string {
	ready := make(map[string]bool)
	for _, t := range graph.ReadySet(tasks) {
		ready[t.ID] = true
	}
	subjects := make(map[string]string, len(tasks))
	for _, t := range tasks {
		subjects[t.ID] = t.Subject
	}

	var b strings.Builder
	b.WriteString(panelTitle.Render("tasks"))
	b.WriteString("\n")
	for _, t := range tasks {
		b.WriteString(renderTaskRow(t, ready[t.ID], subjects))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTaskRow renders one task line: glyph, subject, owner, deps, detail.
func renderTaskRow(t *models.Task, ready bool, subjects map[string]string) string {
	style := taskStatusStyle(t.Status)
	glyph := statusGlyph(t.Status, ready)

	row := fmt.Sprintf(" %s %-24s %-13s", style.Render(glyph), t.Subject, dimStyle.Render(t.Owner))
	if len(t.BlockedBy) > 0 {
		deps := make([]string, 0, len(t.BlockedBy))
		for _, id := range t.BlockedBy {
			if s, ok := subjects[id]; ok {
				deps = append(deps, s)
			} else {
				deps = append(deps, id)
			}
		}
		row += dimStyle.Render(" ← " + strings.Join(deps, ", "))
	}
	if reason := t.Meta(models.MetaFailReason); reason != "" && t.Status == models.TaskStatusBlocked {
		row += " " + errorStyle.Render(reason)
	}
	if t.RetryCount > 0 {
		row += dimStyle.Render(fmt.Sprintf(" (retry %d)", t.RetryCount))
	}
	return row
}

// statusGlyph returns the one-character marker for a task state. A pending
// task in the ready set gets its own marker.
func statusGlyph(status models.TaskStatus, ready bool) string {
	switch status {
	case models.TaskStatusPending:
		if ready {
			return "▷"
		}
		return "·"
	case models.TaskStatusInProgress:
		return "●"
	case models.TaskStatusCompleted:
		return "✓"
	case models.TaskStatusBlocked:
		return "✗"
	case models.TaskStatusSkipped:
		return "○"
	default:
		return "?"
	}
}

// renderMessages renders the message log tail, oldest first.
func renderMessages(msgs []models.Message, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render(" (no messages)")
	}
	var b strings.Builder
	for _, m := range msgs {
		line := fmt.Sprintf(" %4d %s %s → %s %s",
			m.Seq,
			m.Timestamp.Format("15:04:05"),
			m.From, m.To,
			messageTypeStyle(m.Type).Render(string(m.Type)),
		)
		if m.Payload != "" {
			payload := firstLine(m.Payload)
			if width > 0 && len(line)+len(payload)+2 > width {
				cut := width - len(line) - 3
				if cut < 0 {
					cut = 0
				}
				if cut < len(payload) {
					payload = payload[:cut] + "…"
				}
			}
			line += dimStyle.Render("  " + payload)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func footer() string {
	return footerStyle.Render(" q quit · ↑/↓ scroll log")
}
