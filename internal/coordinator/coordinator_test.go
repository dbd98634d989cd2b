package coordinator

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/ensemble/internal/pattern"
	"github.com/ShayCichocki/ensemble/internal/roles"
	"github.com/ShayCichocki/ensemble/internal/worker"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// scriptRunner computes one round result from the start request, so tests can
// key worker behavior off the task named in the prompt.
type scriptRunner struct {
	mu      sync.Mutex
	run     func(req worker.StartRequest) worker.RunResult
	results chan worker.RunResult
	killed  bool
}

func (r *scriptRunner) Start(req worker.StartRequest) error {
	r.emit(r.run(req))
	return nil
}

func (r *scriptRunner) Send(input string) error {
	r.emit(worker.RunResult{Output: "## Summary\n" + input})
	return nil
}

func (r *scriptRunner) emit(res worker.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.killed {
		r.results <- res
	}
}

func (r *scriptRunner) Results() <-chan worker.RunResult { return r.results }

func (r *scriptRunner) Kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.killed {
		r.killed = true
		close(r.results)
	}
	return nil
}

func (r *scriptRunner) PID() int { return 0 }

type scriptFactory struct {
	run func(req worker.StartRequest) worker.RunResult
}

func (f *scriptFactory) NewRunner() worker.Runner {
	return &scriptRunner{run: f.run, results: make(chan worker.RunResult, 4)}
}

// silentRunner never finishes a round; results arrive through HandleMessage.
type silentRunner struct{ results chan worker.RunResult }

func (r *silentRunner) Start(worker.StartRequest) error  { return nil }
func (r *silentRunner) Send(string) error                { return nil }
func (r *silentRunner) Results() <-chan worker.RunResult { return r.results }
func (r *silentRunner) Kill() error                      { return nil }
func (r *silentRunner) PID() int                         { return 0 }

type silentFactory struct{}

func (silentFactory) NewRunner() worker.Runner {
	return &silentRunner{results: make(chan worker.RunResult)}
}

// completeAll is the default script: every worker finishes its round with a
// passing report.
func completeAll(req worker.StartRequest) worker.RunResult {
	return worker.RunResult{Output: "## Summary\n" + req.Role + " done\n\n## Findings\n- ok"}
}

func testCoordinator(t *testing.T, run func(worker.StartRequest) worker.RunResult, opts ...Option) *Coordinator {
	t.Helper()
	opts = append(opts, WithWaitTimeout(2*time.Second))
	return New(&scriptFactory{run: run}, roles.NewRegistry(), opts...)
}

// runUntil drives Resume until the predicate holds, bounded to keep a broken
// coordinator from hanging the test.
func runUntil(t *testing.T, c *Coordinator, pred func() bool) {
	t.Helper()
	for i := 0; i < 12; i++ {
		if pred() {
			return
		}
		if err := c.Resume(); err != nil {
			break
		}
	}
	if !pred() {
		t.Fatalf("condition not reached after 12 resume rounds")
	}
}

func taskBySubject(t *testing.T, c *Coordinator, subject string) *models.Task {
	t.Helper()
	view, err := c.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, task := range view.Tasks {
		if task.Subject == subject {
			return task
		}
	}
	return nil
}

func sessionStatus(c *Coordinator) models.SessionStatus {
	return c.Session().Status
}

func TestDispatchPlansChain(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())

	sess, err := c.Dispatch("pipeline", "add parser; add cache")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sess.Status != models.SessionActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}

	step1 := taskBySubject(t, c, "step-1")
	step2 := taskBySubject(t, c, "step-2")
	if step1 == nil || step2 == nil {
		t.Fatalf("expected step-1 and step-2 to be planned")
	}
	if step1.Status != models.TaskStatusInProgress {
		t.Errorf("step-1 status = %s, want in_progress", step1.Status)
	}
	if step2.Status != models.TaskStatusPending {
		t.Errorf("step-2 status = %s, want pending", step2.Status)
	}
	if len(step2.BlockedBy) != 1 || step2.BlockedBy[0] != step1.ID {
		t.Errorf("step-2 blocked by %v, want [%s]", step2.BlockedBy, step1.ID)
	}
	if got := len(c.Session().ActiveWorkers); got != 1 {
		t.Errorf("active workers = %d, want 1", got)
	}
}

func TestDispatchUnknownPattern(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())
	if _, err := c.Dispatch("round-robin", "anything"); !errors.Is(err, pattern.ErrUnknownPattern) {
		t.Fatalf("err = %v, want ErrUnknownPattern", err)
	}
}

func TestDispatchRejectsSecondSession(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())
	if _, err := c.Dispatch("pipeline", "first"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := c.Dispatch("pipeline", "second"); err == nil {
		t.Fatal("expected second dispatch to fail")
	}
}

func TestResumeRunsChainToCompletion(t *testing.T) {
	c := testCoordinator(t, completeAll)

	if _, err := c.Dispatch("pipeline", "add parser; add cache"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })

	for _, subject := range []string{"step-1", "step-2"} {
		task := taskBySubject(t, c, subject)
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("%s status = %s, want completed", subject, task.Status)
		}
		if task.Meta(models.MetaSummary) == "" {
			t.Errorf("%s has no recorded summary", subject)
		}
	}

	sess := c.Session()
	if sess.CompletedAt == nil {
		t.Error("completed session has no CompletedAt")
	}
	if len(sess.ActiveWorkers) != 0 {
		t.Errorf("active workers = %d after completion, want 0", len(sess.ActiveWorkers))
	}
}

func TestHandleMessageCompletesTaskAndAdvances(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())

	if _, err := c.Dispatch("pipeline", "ship the feature"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	plan := taskBySubject(t, c, "plan")
	if plan == nil || plan.Status != models.TaskStatusInProgress {
		t.Fatalf("plan task not in progress after dispatch")
	}
	wid := c.Session().ActiveWorkers[0].WorkerID

	msg := models.Message{
		From: wid, To: "coordinator",
		Type:     models.MessageTaskComplete,
		TaskID:   plan.ID,
		Payload:  "## Summary\nplan ready\n\n## Findings\n- three steps",
		Artifact: "plan.md",
	}
	if err := c.HandleMessage(msg); err != nil {
		t.Fatalf("handle message: %v", err)
	}

	plan = taskBySubject(t, c, "plan")
	if plan.Status != models.TaskStatusCompleted {
		t.Fatalf("plan status = %s, want completed", plan.Status)
	}
	if got := plan.Meta(models.MetaArtifact); got != "plan.md" {
		t.Errorf("plan artifact = %q, want plan.md", got)
	}
	if impl := taskBySubject(t, c, "implement"); impl.Status != models.TaskStatusInProgress {
		t.Errorf("implement status = %s, want in_progress after advance", impl.Status)
	}

	// The reporting worker is retired once its task completes.
	for _, aw := range c.Session().ActiveWorkers {
		if aw.WorkerID == wid {
			t.Errorf("worker %s still declared active", wid)
		}
	}

	// A duplicate of the same report is ignored: task store stays ground truth.
	if err := c.HandleMessage(msg); err != nil {
		t.Fatalf("duplicate message: %v", err)
	}
	if plan = taskBySubject(t, c, "plan"); plan.Status != models.TaskStatusCompleted {
		t.Errorf("plan status changed by duplicate message: %s", plan.Status)
	}
}

func TestHandleMessageBlockedMarksTask(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())

	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	step1 := taskBySubject(t, c, "step-1")
	wid := c.Session().ActiveWorkers[0].WorkerID

	err := c.HandleMessage(models.Message{
		From: wid, To: "coordinator",
		Type:    models.MessageTaskBlocked,
		TaskID:  step1.ID,
		Payload: "## Summary\nmissing schema",
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}

	// The pipeline turns the failure into a fix follow-up and re-queues step-1.
	step1 = taskBySubject(t, c, "step-1")
	if step1.Status != models.TaskStatusPending {
		t.Fatalf("step-1 status = %s, want pending after fix follow-up", step1.Status)
	}
	if step1.RetryCount != 1 {
		t.Errorf("step-1 retries = %d, want 1", step1.RetryCount)
	}
	fix := taskBySubject(t, c, "step-1-fix-1")
	if fix == nil {
		t.Fatal("expected fix follow-up task")
	}
	if fix.Status != models.TaskStatusInProgress {
		t.Errorf("fix status = %s, want in_progress", fix.Status)
	}
}

func TestCheckIsReadOnly(t *testing.T) {
	c := New(silentFactory{}, roles.NewRegistry())
	if _, err := c.Check(); err == nil {
		t.Fatal("expected check without a session to fail")
	}

	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	before, err := c.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	after, err := c.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(before.Tasks) != len(after.Tasks) || before.LastSeq != after.LastSeq {
		t.Error("check mutated coordinator state")
	}
	if before.Session.Status != models.SessionActive {
		t.Errorf("session status = %s, want active", before.Session.Status)
	}
	// step-1 is in flight and step-2 is blocked on it; nothing is ready.
	if len(before.Ready) != 0 {
		t.Errorf("ready = %v, want empty", before.Ready)
	}
}

func TestCheckpointPausesAndConfirmResumes(t *testing.T) {
	c := testCoordinator(t, completeAll)

	if _, err := c.Dispatch("pipeline", "design the API; build on the design"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := c.AddCheckpoint("design-approved", []string{"step-1"}, []string{"step-2"}); err != nil {
		t.Fatalf("add checkpoint: %v", err)
	}

	// Confirming before the gate's dependencies finish must fail.
	if err := c.Confirm("design-approved"); err == nil {
		t.Fatal("expected early confirm to fail")
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionPaused })

	if step2 := taskBySubject(t, c, "step-2"); step2.Status != models.TaskStatusPending {
		t.Fatalf("step-2 status = %s, want pending while gated", step2.Status)
	}

	if err := c.Confirm("design-approved"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := c.Session().Checkpoint; got != "design-approved" {
		t.Errorf("session checkpoint = %q, want design-approved", got)
	}
	gate := taskBySubject(t, c, "checkpoint-design-approved")
	if gate.Status != models.TaskStatusCompleted {
		t.Errorf("gate status = %s, want completed", gate.Status)
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })

	// A second confirm of a satisfied checkpoint fails.
	if err := c.Confirm("design-approved"); err == nil {
		t.Error("expected re-confirm to fail")
	}
	if err := c.Confirm("no-such-gate"); err == nil {
		t.Error("expected unknown checkpoint to fail")
	}
}

func TestWorkerCrashIsRetried(t *testing.T) {
	var mu sync.Mutex
	crashed := false
	run := func(req worker.StartRequest) worker.RunResult {
		mu.Lock()
		defer mu.Unlock()
		if strings.Contains(req.Prompt, "(step-1):") && !crashed {
			crashed = true
			return worker.RunResult{Err: errors.New("worker exited unexpectedly")}
		}
		return completeAll(req)
	}
	c := testCoordinator(t, run)

	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })

	step1 := taskBySubject(t, c, "step-1")
	if step1.Status != models.TaskStatusCompleted {
		t.Fatalf("step-1 status = %s, want completed after retry", step1.Status)
	}
	if step1.RetryCount != 1 {
		t.Errorf("step-1 retries = %d, want 1", step1.RetryCount)
	}

	spawned, closed := c.pool.Counts()
	if spawned != closed {
		t.Errorf("spawned=%d closed=%d, want every spawn closed", spawned, closed)
	}
	if spawned != 3 {
		t.Errorf("spawned = %d, want 3 (crash + retry + step-2)", spawned)
	}
}

func TestConsultOpensOneConsultantAcrossResumes(t *testing.T) {
	var mu sync.Mutex
	asked := false
	run := func(req worker.StartRequest) worker.RunResult {
		mu.Lock()
		defer mu.Unlock()
		if strings.Contains(req.Prompt, "(work):") && !asked {
			asked = true
			return worker.RunResult{Output: "## Summary\nneed a decision\nConsult: which schema version?"}
		}
		return worker.RunResult{Output: "## Summary\nuse schema v2\nConfidence: 0.9"}
	}
	c := testCoordinator(t, run)

	if _, err := c.Dispatch("consulting", "wire the storage layer"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// The first resume collects the consult request and opens a consultant.
	if err := c.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if taskBySubject(t, c, "consult-1") == nil {
		t.Fatal("expected consult-1 after the consult request")
	}

	// The requester is parked awaiting advice. A second resume must not
	// re-deliver its round and open a duplicate consultant.
	if err := c.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if dup := taskBySubject(t, c, "consult-2"); dup != nil {
		t.Fatalf("duplicate consultant task opened: %s (%s)", dup.Subject, dup.Status)
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })

	if work := taskBySubject(t, c, "work"); work.Status != models.TaskStatusCompleted {
		t.Errorf("work status = %s, want completed after advice", work.Status)
	}
	view, _ := c.Check()
	consultants := 0
	for _, task := range view.Tasks {
		if task.Owner == "consultant" {
			consultants++
		}
	}
	if consultants != 1 {
		t.Errorf("consultant tasks = %d, want 1", consultants)
	}
	spawned, closed := c.pool.Counts()
	if spawned != 2 || closed != 2 {
		t.Errorf("spawned=%d closed=%d, want 2/2 (requester + one consultant)", spawned, closed)
	}
}

// blockedScript blocks every step-1 attempt; fix follow-ups and other steps
// succeed.
func blockedScript(req worker.StartRequest) worker.RunResult {
	if strings.Contains(req.Prompt, "(step-1):") {
		return worker.RunResult{Output: "## Summary\ncannot build\nBlocked: missing credentials"}
	}
	return completeAll(req)
}

func escalatedCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := testCoordinator(t, blockedScript, WithConfig(pattern.Config{MaxRetries: 1}))
	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	runUntil(t, c, func() bool { return c.Escalation() != nil })
	return c
}

func TestBlockedTaskEscalatesAfterRetryBudget(t *testing.T) {
	c := escalatedCoordinator(t)

	report := c.Escalation()
	if report.Subject != "step-1" {
		t.Errorf("escalated subject = %q, want step-1", report.Subject)
	}
	if !strings.Contains(report.Reason, "retry budget exhausted") {
		t.Errorf("reason = %q, want retry budget exhausted", report.Reason)
	}
	if len(report.Diagnosis) == 0 {
		t.Error("expected a diagnosis chain")
	}
	for _, line := range report.Diagnosis {
		if !strings.Contains(line, "missing credentials") {
			t.Errorf("diagnosis line %q lacks the failure reason", line)
		}
	}
	if len(report.Options) != 4 {
		t.Errorf("options = %v, want retry/skip/abort/manual_input", report.Options)
	}
	if sessionStatus(c) != models.SessionPaused {
		t.Errorf("session status = %s, want paused", sessionStatus(c))
	}

	view, _ := c.Check()
	if view.Escalation == nil {
		t.Error("check does not expose the escalation report")
	}

	// Resume must not advance a paused session.
	if err := c.Resume(); err != nil {
		t.Fatalf("resume while paused: %v", err)
	}
	if c.Escalation() == nil {
		t.Error("resume cleared the escalation")
	}
}

func TestEscalationSkipUnblocksDependents(t *testing.T) {
	c := escalatedCoordinator(t)

	if err := c.Decide(EscalationSkip, ""); err != nil {
		t.Fatalf("decide skip: %v", err)
	}
	if c.Escalation() != nil {
		t.Fatal("escalation not cleared after decision")
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })

	if step1 := taskBySubject(t, c, "step-1"); step1.Status != models.TaskStatusSkipped {
		t.Errorf("step-1 status = %s, want skipped", step1.Status)
	}
	if step2 := taskBySubject(t, c, "step-2"); step2.Status != models.TaskStatusCompleted {
		t.Errorf("step-2 status = %s, want completed", step2.Status)
	}
}

func TestEscalationRetryGrantsFreshBudget(t *testing.T) {
	c := escalatedCoordinator(t)

	if err := c.Decide(EscalationRetry, ""); err != nil {
		t.Fatalf("decide retry: %v", err)
	}
	step1 := taskBySubject(t, c, "step-1")
	if step1.RetryCount != 0 {
		t.Errorf("step-1 retries = %d after retry decision, want 0", step1.RetryCount)
	}
	if step1.Status != models.TaskStatusInProgress {
		t.Errorf("step-1 status = %s, want in_progress", step1.Status)
	}
	if sessionStatus(c) != models.SessionActive {
		t.Errorf("session status = %s, want active", sessionStatus(c))
	}
}

func TestEscalationAbortStopsSession(t *testing.T) {
	c := escalatedCoordinator(t)

	if err := c.Decide(EscalationAbort, ""); err != nil {
		t.Fatalf("decide abort: %v", err)
	}
	sess := c.Session()
	if sess.Status != models.SessionAborted {
		t.Fatalf("session status = %s, want aborted", sess.Status)
	}
	if sess.CompletedAt == nil {
		t.Error("aborted session has no CompletedAt")
	}
	if c.Escalation() != nil {
		t.Error("escalation not cleared after abort")
	}
	if len(sess.ActiveWorkers) != 0 {
		t.Errorf("active workers = %d after abort, want 0", len(sess.ActiveWorkers))
	}
}

func TestEscalationManualInputRequeuesWithInput(t *testing.T) {
	run := func(req worker.StartRequest) worker.RunResult {
		if strings.Contains(req.Prompt, "(step-1):") && !strings.Contains(req.Prompt, "Operator input") {
			return worker.RunResult{Output: "## Summary\ncannot build\nBlocked: missing credentials"}
		}
		return completeAll(req)
	}
	c := testCoordinator(t, run, WithConfig(pattern.Config{MaxRetries: 1}))
	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	runUntil(t, c, func() bool { return c.Escalation() != nil })

	if err := c.Decide(EscalationManualInput, "use the staging credentials"); err != nil {
		t.Fatalf("decide manual_input: %v", err)
	}
	step1 := taskBySubject(t, c, "step-1")
	if !strings.Contains(step1.Description, "use the staging credentials") {
		t.Errorf("step-1 description lacks the operator input: %q", step1.Description)
	}

	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })
	if step1 = taskBySubject(t, c, "step-1"); step1.Status != models.TaskStatusCompleted {
		t.Errorf("step-1 status = %s, want completed with operator input", step1.Status)
	}
}

func TestDecideWithoutEscalationFails(t *testing.T) {
	c := testCoordinator(t, completeAll)
	if _, err := c.Dispatch("pipeline", "one"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := c.Decide(EscalationSkip, ""); err == nil {
		t.Fatal("expected decide without an escalation to fail")
	}
}

func TestEventsAreEmitted(t *testing.T) {
	emitter := NewEmitter(64)
	c := testCoordinator(t, completeAll, WithEmitter(emitter))

	if _, err := c.Dispatch("pipeline", "one; two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	runUntil(t, c, func() bool { return sessionStatus(c) == models.SessionCompleted })
	emitter.Close()

	seen := make(map[EventType]int)
	for e := range emitter.Events() {
		seen[e.Type]++
	}
	if seen[EventSessionStarted] != 1 {
		t.Errorf("session started events = %d, want 1", seen[EventSessionStarted])
	}
	if seen[EventTaskStarted] != 2 {
		t.Errorf("task started events = %d, want 2", seen[EventTaskStarted])
	}
	if seen[EventTaskCompleted] != 2 {
		t.Errorf("task completed events = %d, want 2", seen[EventTaskCompleted])
	}
	if seen[EventSessionDone] != 1 {
		t.Errorf("session done events = %d, want 1", seen[EventSessionDone])
	}
}
