// Package tui renders a live session view for `ensemble status --watch`.
// The model polls a snapshot source on a fixed refresh rate and renders the
// dependency graph annotated with task status, workers, and the message log.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Snapshot is one render frame of session state.
type Snapshot struct {
	// Session is the session record.
	Session models.Session
	// Tasks is the task snapshot in creation order.
	Tasks []*models.Task
	// Messages is the message log, oldest first.
	Messages []models.Message
}

// SnapshotFunc supplies the current snapshot. The status command backs it
// with the state database so the watch view works from any process.
type SnapshotFunc func() (*Snapshot, error)

type tickMsg time.Time

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

// Model is the bubbletea model for the watch view.
type Model struct {
	fetch   SnapshotFunc
	refresh time.Duration

	spin spinner.Model
	log  viewport.Model

	snap   *Snapshot
	err    error
	width  int
	height int
	ready  bool
}

// NewModel creates a watch model polling fetch at the given refresh rate.
func NewModel(fetch SnapshotFunc, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		fetch:   fetch,
		refresh: refresh,
		spin:    sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetchCmd())
}

func (m Model) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		snap, err := fetch()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layoutLog()
		return m, nil

	case tickMsg:
		return m, m.fetchCmd()

	case snapshotMsg:
		m.err = msg.err
		if msg.snap != nil {
			m.snap = msg.snap
			m.log.SetContent(renderMessages(msg.snap.Messages, m.logWidth()))
			if !m.ready {
				m.ready = true
				m.log.GotoBottom()
			}
		}
		return m, m.tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// layoutLog sizes the message log viewport to the space left under the task
// panel.
func (m *Model) layoutLog() {
	w := m.logWidth()
	h := m.height - m.taskPanelHeight() - 4 // header + footer + borders
	if h < 3 {
		h = 3
	}
	m.log.Width = w
	m.log.Height = h
}

func (m Model) logWidth() int {
	if m.width <= 2 {
		return 78
	}
	return m.width - 2
}

func (m Model) taskPanelHeight() int {
	if m.snap == nil {
		return 1
	}
	return len(m.snap.Tasks) + 1
}

// Run starts the watch view and blocks until the user quits.
func Run(fetch SnapshotFunc, refresh time.Duration) error {
	p := tea.NewProgram(NewModel(fetch, refresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
