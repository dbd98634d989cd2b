// Package worker provides the lifecycle wrapper around spawned workers:
// spawn, bounded wait, continuation, and close.
package worker

import "time"

// StartRequest carries everything a runner needs to launch one worker.
type StartRequest struct {
	// WorkerID is the handle ID assigned by the pool.
	WorkerID string
	// SessionID is the session the worker serves.
	SessionID string
	// TaskID is the task the worker executes.
	TaskID string
	// Role is the role configuration name.
	Role string
	// Prompt is the full instruction text, including the task description
	// and session context.
	Prompt string
	// Dir is the working directory, if the runner is a subprocess.
	Dir string
}

// RunResult is one round of worker output.
// Err is non-nil only when the worker crashed; an unparseable or negative
// report is still a successful round.
type RunResult struct {
	// Output is the raw structured report text for the round.
	Output string
	// Err reports a worker crash (process died without finishing a round).
	Err error
}

// Runner defines the execution backend for one worker.
// Implemented by the subprocess runner and by test fakes.
type Runner interface {
	// Start launches the worker. Non-blocking.
	Start(req StartRequest) error
	// Send delivers a continuation input to a live worker.
	Send(input string) error
	// Results returns the channel of per-round results. The channel is
	// closed when the worker terminates.
	Results() <-chan RunResult
	// Kill terminates the worker immediately.
	Kill() error
	// PID returns the operating system process ID, or 0 for in-process
	// runners.
	PID() int
}

// Factory creates Runner instances. The pool uses it so callers can switch
// between subprocess workers and fakes.
type Factory interface {
	// NewRunner creates a fresh runner for one worker lifetime.
	NewRunner() Runner
}

// Outcome is the result of one worker round, retrieved exclusively through
// Pool.Wait. Crashes surface as a failure value, never as an error thrown
// across the wait boundary.
type Outcome struct {
	// WorkerID identifies the worker.
	WorkerID string
	// TaskID is the task the worker executes.
	TaskID string
	// Role is the worker's role.
	Role string
	// Round counts completed rounds for this worker, starting at 1.
	Round int
	// Report is the parsed structured output. Nil when Crashed.
	Report *Report
	// Crashed indicates the worker died without completing the round.
	Crashed bool
	// FailReason describes the crash, if any.
	FailReason string
	// FinishedAt is when the round completed.
	FinishedAt time.Time
}

// Success reports whether the round produced a usable report.
func (o Outcome) Success() bool {
	return !o.Crashed && o.Report != nil
}
