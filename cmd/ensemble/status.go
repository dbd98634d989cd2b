package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/tui"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the state of a session",
	Long: `Status renders the dependency graph of a session annotated with task
status, active workers, and the message log. Without a session ID the most
recent active session is shown. With --watch a live TUI keeps refreshing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live view, refreshed continuously")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	db, err := openState(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionID := ""
	if len(args) == 1 {
		sessionID = args[0]
	} else {
		active, err := db.ActiveSessions()
		if err != nil {
			return err
		}
		if len(active) == 0 {
			fmt.Println("No active session. Run 'ensemble dispatch <requirements>' to start one.")
			return nil
		}
		sessionID = active[len(active)-1].ID
	}

	fetch := func() (*tui.Snapshot, error) {
		snap, err := db.LoadSnapshot(sessionID)
		if err != nil {
			return nil, err
		}
		return &tui.Snapshot{
			Session:  *snap.Session,
			Tasks:    snap.Tasks,
			Messages: snap.Messages,
		}, nil
	}

	if statusWatch {
		return tui.Run(fetch, cfg.TUI.RefreshRate)
	}
	snap, err := fetch()
	if err != nil {
		return err
	}
	printStatus(snap)
	return nil
}

// printStatus renders one plain-text status frame.
func printStatus(snap *tui.Snapshot) {
	s := snap.Session
	fmt.Printf("session %s  pattern %s  status %s\n", s.ID, s.Pattern, coloredSessionStatus(s.Status))
	if s.Checkpoint != "" {
		fmt.Printf("last checkpoint: %s\n", s.Checkpoint)
	}
	fmt.Println()

	ready := make(map[string]bool)
	for _, t := range graph.ReadySet(snap.Tasks) {
		ready[t.ID] = true
	}
	subjects := make(map[string]string, len(snap.Tasks))
	for _, t := range snap.Tasks {
		subjects[t.ID] = t.Subject
	}

	for _, t := range snap.Tasks {
		marker := " "
		if ready[t.ID] {
			marker = "▷"
		}
		fmt.Printf(" %s %-12s %-24s %s", marker, coloredTaskStatus(t.Status), t.Subject, faint.Sprint(t.Owner))
		if len(t.BlockedBy) > 0 {
			deps := make([]string, 0, len(t.BlockedBy))
			for _, id := range t.BlockedBy {
				if sub, ok := subjects[id]; ok {
					deps = append(deps, sub)
				} else {
					deps = append(deps, id)
				}
			}
			fmt.Print(faint.Sprintf("  ← %v", deps))
		}
		fmt.Println()
	}

	if n := len(s.ActiveWorkers); n > 0 {
		fmt.Printf("\n%d active workers\n", n)
		for _, w := range s.ActiveWorkers {
			fmt.Printf("  %s  %s  %s\n", w.WorkerID, w.Role, faint.Sprint(subjects[w.TaskID]))
		}
	}
}

func coloredSessionStatus(s models.SessionStatus) string {
	switch s {
	case models.SessionActive:
		return cyan.Sprint(string(s))
	case models.SessionPaused:
		return yellow.Sprint(string(s))
	case models.SessionCompleted:
		return green.Sprint(string(s))
	case models.SessionAborted:
		return red.Sprint(string(s))
	default:
		return string(s)
	}
}

func coloredTaskStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusInProgress:
		return yellow.Sprint(string(s))
	case models.TaskStatusCompleted:
		return green.Sprint(string(s))
	case models.TaskStatusBlocked:
		return red.Sprint(string(s))
	default:
		return string(s)
	}
}
