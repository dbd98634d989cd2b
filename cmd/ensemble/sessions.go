package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, flagging interrupted ones",
	Long: `Sessions lists every recorded session with its status. Interrupted
sessions (active or paused in the database with no confirmable live workers)
are flagged as resumable.`,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
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

	sessions, err := db.ListSessions(nil)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	interrupted, err := db.FindInterrupted()
	if err != nil {
		return err
	}
	resumable := make(map[string]int, len(interrupted))
	for _, is := range interrupted {
		resumable[is.SessionID] = is.PendingTasks
	}

	for _, s := range sessions {
		line := fmt.Sprintf("%s  %-12s %-10s age %s", s.ID, s.Pattern, coloredSessionStatus(s.Status), sinceShort(s.CreatedAt))
		if pending, ok := resumable[s.ID]; ok {
			line += yellow.Sprintf("  resumable (%d pending tasks)", pending)
		}
		fmt.Println(line)
	}
	return nil
}
