package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Reconcile and continue an interrupted session",
	Long: `Resume loads a persisted session, repairs it (dangling edges pruned,
lost tasks re-planned with canonical dependencies, orphaned in-flight tasks
reset to pending), and drives it forward. Workers whose processes survived
the interruption are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
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

	c, emitter, cleanup, err := buildCoordinator(dir, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()
	go printEvents(emitter)
	defer emitter.Close()

	if err := c.Load(args[0]); err != nil {
		return err
	}
	mutations, err := c.Reconcile()
	if err != nil {
		return err
	}
	if mutations > 0 {
		yellow.Printf("reconciled session %s: %d repairs\n", args[0], mutations)
	} else {
		faint.Printf("session %s already consistent\n", args[0])
	}
	return runSession(c)
}
