package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ProcConfig describes how to launch worker subprocesses.
type ProcConfig struct {
	// Command is the worker executable.
	Command string
	// Args are fixed arguments passed to every worker.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
}

// ProcFactory creates subprocess-backed runners.
type ProcFactory struct {
	cfg ProcConfig
}

// NewProcFactory creates a factory launching workers with the given config.
func NewProcFactory(cfg ProcConfig) *ProcFactory {
	return &ProcFactory{cfg: cfg}
}

// NewRunner creates a fresh subprocess runner.
func (f *ProcFactory) NewRunner() Runner {
	return &ProcRunner{
		cfg:     f.cfg,
		results: make(chan RunResult, 4),
	}
}

// procEvent is one line of the worker wire protocol. The coordinator writes
// prompt/continue events to stdin; the worker writes report/log events to
// stdout, one JSON object per line.
type procEvent struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

// ProcRunner executes a worker as a subprocess speaking the JSON-lines
// protocol. A "report" event ends a round.
type ProcRunner struct {
	cfg     ProcConfig
	results chan RunResult

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending bool // a round is in flight
	killed  bool
}

// Compile-time verification that ProcRunner implements Runner.
var _ Runner = (*ProcRunner)(nil)

// Start launches the subprocess and writes the initial prompt.
func (r *ProcRunner) Start(req StartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("proc runner already started")
	}

	cmd := exec.Command(r.cfg.Command, r.cfg.Args...)
	cmd.Dir = req.Dir
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.pending = true

	if err := r.writeEvent(procEvent{Type: "prompt", Body: req.Prompt}); err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("write prompt: %w", err)
	}

	go r.readLoop(stdout)
	return nil
}

// readLoop consumes stdout events until the process exits.
func (r *ProcRunner) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	// Reports can be large; allow up to 4 MiB lines.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var ev procEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // non-protocol output is ignored
		}
		if ev.Type != "report" {
			continue
		}

		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()
		r.results <- RunResult{Output: ev.Body}
	}

	err := r.cmd.Wait()

	r.mu.Lock()
	pending := r.pending
	killed := r.killed
	r.mu.Unlock()

	if pending && !killed {
		reason := "worker process exited mid-round"
		if err != nil {
			reason = fmt.Sprintf("worker process exited mid-round: %v", err)
		}
		r.results <- RunResult{Err: fmt.Errorf("%s", reason)}
	}
	close(r.results)
}

// Send writes a continuation event to the worker's stdin.
func (r *ProcRunner) Send(input string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.killed {
		return fmt.Errorf("proc runner not running")
	}
	r.pending = true
	return r.writeEvent(procEvent{Type: "continue", Body: input})
}

// writeEvent marshals and writes one protocol line. Caller holds the lock.
func (r *ProcRunner) writeEvent(ev procEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = r.stdin.Write(data)
	return err
}

// Results returns the per-round result channel.
func (r *ProcRunner) Results() <-chan RunResult {
	return r.results
}

// Kill terminates the subprocess immediately.
func (r *ProcRunner) Kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.killed {
		return nil
	}
	r.killed = true
	r.stdin.Close()
	if r.cmd.Process != nil {
		return r.cmd.Process.Kill()
	}
	return nil
}

// PID returns the subprocess ID, or 0 before Start.
func (r *ProcRunner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}
