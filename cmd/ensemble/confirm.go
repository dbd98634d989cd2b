package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/coordinator"
)

var (
	confirmAction string
	confirmInput  string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <session-id> [checkpoint]",
	Short: "Release a checkpoint or decide an open escalation",
	Long: `Confirm continues a paused session.

With a checkpoint name it releases the named confirmation gate and dispatches
the now-unblocked tasks. With --action it decides an open escalation:

  retry         grant the blocking task a fresh retry budget
  skip          mark the blocking task skipped; dependents proceed
  abort         stop the session
  manual_input  feed --input to the blocking task and retry it`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConfirm,
}

func init() {
	confirmCmd.Flags().StringVar(&confirmAction, "action", "", "escalation decision (retry, skip, abort, manual_input)")
	confirmCmd.Flags().StringVar(&confirmInput, "input", "", "operator input for manual_input")
}

func runConfirm(cmd *cobra.Command, args []string) error {
	if confirmAction == "" && len(args) < 2 {
		return fmt.Errorf("name a checkpoint to release or pass --action for an escalation")
	}

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
	if _, err := c.Reconcile(); err != nil {
		return err
	}

	if confirmAction != "" {
		if c.Escalation() == nil {
			return fmt.Errorf("session %s has no open escalation", args[0])
		}
		action := coordinator.EscalationAction(confirmAction)
		if err := c.Decide(action, confirmInput); err != nil {
			return err
		}
		green.Printf("escalation decided: %s\n", action)
	} else {
		if err := c.Confirm(args[1]); err != nil {
			return err
		}
		green.Printf("checkpoint %q released\n", args[1])
	}
	return runSession(c)
}
