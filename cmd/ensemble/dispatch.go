package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/pattern"
)

var dispatchPattern string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <requirements>",
	Short: "Plan and run a session for the given requirements",
	Long: `Dispatch plans a task chain with the selected collaboration pattern and
drives it to completion. Semicolon-separated requirements become sequential
steps; a single requirement expands to the pattern's canonical chain.

The command blocks until the session completes, aborts, or pauses at a
checkpoint or escalation. Paused sessions are continued with 'ensemble
confirm' or 'ensemble resume'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchPattern, "pattern", "p", "",
		"collaboration pattern ("+strings.Join(pattern.Names(), ", ")+")")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	requirements := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := dispatchPattern
	if name == "" {
		name = cfg.Defaults.Pattern
	}
	if !pattern.Valid(name) {
		return fmt.Errorf("unknown pattern %q (known: %s)", name, strings.Join(pattern.Names(), ", "))
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

	if _, err := c.Dispatch(name, requirements); err != nil {
		return err
	}
	return runSession(c)
}
