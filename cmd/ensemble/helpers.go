package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/ensemble/internal/config"
	"github.com/ShayCichocki/ensemble/internal/coordinator"
	"github.com/ShayCichocki/ensemble/internal/retro"
	"github.com/ShayCichocki/ensemble/internal/roles"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/internal/worker"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// loadConfig loads the merged configuration (XDG, project, env).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// projectPath resolves a configured path against the working directory.
func projectPath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// openState opens (and migrates) the session database.
func openState(dir string, cfg *config.Config) (*state.DB, error) {
	path := projectPath(dir, cfg.Paths.StateDB)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// loadRoles builds the role registry, merging the project roles file when
// present.
func loadRoles(dir string, cfg *config.Config) (*roles.Registry, error) {
	reg := roles.NewRegistry()
	path := projectPath(dir, cfg.Paths.RolesFile)
	if _, err := os.Stat(path); err == nil {
		if err := reg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildCoordinator assembles a coordinator with the full stack: subprocess
// workers, role registry, state database, retro store, debug log, and an
// event emitter feeding the progress printer.
func buildCoordinator(dir string, cfg *config.Config, db *state.DB) (*coordinator.Coordinator, *coordinator.Emitter, func(), error) {
	if cfg.Workers.Command == "" {
		return nil, nil, nil, fmt.Errorf("no worker command configured (set workers.command or ENSEMBLE_WORKERS_COMMAND)")
	}
	reg, err := loadRoles(dir, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	factory := worker.NewProcFactory(worker.ProcConfig{
		Command: cfg.Workers.Command,
		Args:    cfg.Workers.Args,
		Env:     cfg.Workers.Env,
	})

	retros, err := retro.NewStore(projectPath(dir, cfg.Paths.RetroDB))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open retro store: %w", err)
	}

	logger := coordinator.NewDebugLoggerForProject(dir)

	emitter := coordinator.NewEmitter(256)
	opts := []coordinator.Option{
		coordinator.WithStateDB(db),
		coordinator.WithRetroStore(retros),
		coordinator.WithConfig(cfg.PatternConfig()),
		coordinator.WithEmitter(emitter),
		coordinator.WithLogger(logger),
		coordinator.WithDir(dir),
	}
	// One resume round must outlast the slowest role's budget.
	if wait := longestRoleTimeout(cfg, reg); wait > 0 {
		opts = append(opts, coordinator.WithWaitTimeout(wait))
	}
	c := coordinator.New(factory, reg, opts...)

	// Tuning knobs and wait budgets reload live while a session runs.
	cleanup := func() {}
	if path := config.FindProjectConfig(); path != "" {
		w, werr := config.Watch(path, func(next *config.Config) {
			c.SetConfig(next.PatternConfig())
			c.SetWaitTimeout(longestRoleTimeout(next, reg))
		})
		if werr == nil {
			cleanup = w.Close
		}
	}
	return c, emitter, cleanup, nil
}

// longestRoleTimeout returns the largest per-role wait budget, preferring the
// configured override over the registry default.
func longestRoleTimeout(cfg *config.Config, reg *roles.Registry) time.Duration {
	var max time.Duration
	for _, name := range reg.Names() {
		t := cfg.RoleTimeout(name)
		if t == 0 {
			t = reg.Timeout(name)
		}
		if t > max {
			max = t
		}
	}
	return max
}

// printEvents renders coordinator events as colored progress lines until the
// emitter closes.
func printEvents(emitter *coordinator.Emitter) {
	for e := range emitter.Events() {
		switch e.Type {
		case coordinator.EventSessionStarted:
			cyan.Printf("◆ session %s started (%s)\n", e.SessionID, e.Message)
		case coordinator.EventTaskStarted:
			fmt.Printf("● %s started (%s)\n", e.Subject, faint.Sprint(e.WorkerID))
		case coordinator.EventTaskCompleted:
			green.Printf("✓ %s completed\n", e.Subject)
		case coordinator.EventTaskBlocked:
			red.Printf("✗ %s blocked: %s\n", e.Subject, e.Message)
		case coordinator.EventCheckpointReached:
			yellow.Printf("■ checkpoint %q reached — run 'ensemble confirm %s %s' to continue\n",
				e.Message, e.SessionID, e.Message)
		case coordinator.EventEscalation:
			red.Printf("‼ escalation on %s: %s\n", e.Subject, e.Message)
		case coordinator.EventSessionDone:
			green.Printf("◆ session %s completed (%s)\n", e.SessionID, e.Message)
		case coordinator.EventSessionAborted:
			red.Printf("◆ session %s aborted\n", e.SessionID)
		}
	}
}

// runSession drives the coordinator through resume rounds until the session
// leaves the active state, watching the inbox for worker callbacks.
func runSession(c *coordinator.Coordinator) error {
	watcher, err := c.WatchInbox()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for {
		sess := c.Session()
		if sess == nil || sess.Status != models.SessionActive {
			return finishSession(c)
		}
		if err := c.Resume(); err != nil {
			// Strategy-terminal failures surface as an escalation report;
			// anything else aborts the run loop.
			if c.Escalation() == nil {
				return err
			}
			return finishSession(c)
		}
	}
}

// finishSession prints the terminal or paused state of the session.
func finishSession(c *coordinator.Coordinator) error {
	sess := c.Session()
	if sess == nil {
		return nil
	}
	switch sess.Status {
	case models.SessionPaused:
		if report := c.Escalation(); report != nil {
			printEscalation(report)
		} else {
			yellow.Printf("session %s paused; confirm the pending checkpoint to continue\n", sess.ID)
		}
	case models.SessionAborted:
		return fmt.Errorf("session %s aborted", sess.ID)
	}
	return nil
}

// printEscalation renders an escalation report for the operator.
func printEscalation(report *coordinator.EscalationReport) {
	red.Printf("escalation in session %s\n", report.SessionID)
	fmt.Printf("  task:       %s (%s)\n", report.Subject, report.TaskID)
	fmt.Printf("  reason:     %s\n", report.Reason)
	if report.Checkpoint != "" {
		fmt.Printf("  checkpoint: %s (last satisfied)\n", report.Checkpoint)
	}
	if len(report.Diagnosis) > 0 {
		fmt.Println("  diagnosis:")
		for _, line := range report.Diagnosis {
			fmt.Printf("    - %s\n", line)
		}
	}
	fmt.Printf("  decide with: ensemble confirm %s --action retry|skip|abort|manual_input [--input text]\n",
		report.SessionID)
}

// sinceShort formats an age like the sessions listing needs it.
func sinceShort(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	switch {
	case d > 48*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d > time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return d.String()
	}
}
