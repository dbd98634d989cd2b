package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Task-dependency orchestration engine",
	Long: `Ensemble coordinates pools of worker processes over task dependency
graphs using pluggable collaboration patterns.

A session is dispatched with a pattern (pipeline, consensus, fan-out, ...)
and a requirements string. The pattern plans a task chain, the coordinator
spawns role-bound workers for ready tasks, and workers report structured
results that drive the next scheduling decision. Sessions survive process
death: state is persisted after every transition and reconciled on resume.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}
