package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/ensemble/internal/bus"
	"github.com/ShayCichocki/ensemble/internal/graph"
	"github.com/ShayCichocki/ensemble/internal/pattern"
	"github.com/ShayCichocki/ensemble/internal/retro"
	"github.com/ShayCichocki/ensemble/internal/roles"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/internal/task"
	"github.com/ShayCichocki/ensemble/internal/worker"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// defaultWaitTimeout bounds one Resume round when no role-specific budget
// applies. Wait is always timeout-bounded; expiry is not an error.
const defaultWaitTimeout = 30 * time.Second

// maxDecideRounds caps cascading decide/apply rounds within one wake, so a
// misbehaving strategy cannot spin the coordinator.
const maxDecideRounds = 8

// Coordinator composes the task store, message bus, worker pool, and a
// collaboration strategy into one session-scoped event loop. It is driven
// exclusively by its three wake sources: HandleMessage (worker callback),
// Check (read-only status), and Resume (bounded wait) — never by an internal
// sleep/poll loop.
type Coordinator struct {
	mu sync.Mutex

	session *models.Session
	engine  pattern.Engine
	pstate  *pattern.State

	tasks *task.Store
	bus   *bus.Bus
	pool  *worker.Pool
	roles *roles.Registry

	db     *state.DB    // nil disables persistence
	retros *retro.Store // nil disables post-mortem persistence

	cfg         pattern.Config
	emitter     *Emitter
	logger      *DebugLogger
	waitTimeout time.Duration
	dir         string

	escalation *EscalationReport
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*Coordinator)

// WithStateDB enables durable persistence of sessions, tasks, messages, and
// workers.
func WithStateDB(db *state.DB) Option {
	return func(c *Coordinator) { c.db = db }
}

// WithRetroStore enables persistence of post-mortem reports.
func WithRetroStore(s *retro.Store) Option {
	return func(c *Coordinator) { c.retros = s }
}

// WithConfig sets the strategy tuning knobs.
func WithConfig(cfg pattern.Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithEmitter sets the event emitter.
func WithEmitter(e *Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(c *Coordinator) {
		c.logger = l
		setPackageLogger(l)
	}
}

// WithWaitTimeout bounds one Resume wait round.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.waitTimeout = d }
}

// WithDir sets the project directory used for worker working directories and
// the session inbox.
func WithDir(dir string) Option {
	return func(c *Coordinator) { c.dir = dir }
}

// SetConfig replaces the strategy tuning knobs. A running engine keeps the
// knobs it was planned with; the new knobs apply to sessions dispatched or
// loaded afterwards.
func (c *Coordinator) SetConfig(cfg pattern.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// SetWaitTimeout adjusts the Resume wait bound, taking effect on the next
// resume round. Non-positive values are ignored.
func (c *Coordinator) SetWaitTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.waitTimeout = d
	}
}

// New creates a coordinator. Workers are produced by the given factory;
// task owners are validated against the role registry.
func New(factory worker.Factory, reg *roles.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks:       task.NewStore(reg),
		pool:        worker.NewPool(factory),
		roles:       reg,
		waitTimeout: defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.db != nil {
		c.bus = bus.New(c.db)
	} else {
		c.bus = bus.New(nil)
	}
	// Trace every appended message alongside the decisions it triggers.
	c.bus.Subscribe(func(m models.Message) {
		debugLog("bus: #%d %s %s -> %s", m.Seq, m.Type, m.From, m.To)
	})
	return c
}

// Session returns a copy of the current session, or nil.
func (c *Coordinator) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	cp.ActiveWorkers = append([]models.ActiveWorker(nil), c.session.ActiveWorkers...)
	return &cp
}

// Dispatch plans the task chain for the named strategy and starts the
// session. Planning resolves BlockedBy subject references to task IDs in
// chain order.
func (c *Coordinator) Dispatch(patternName, requirements string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil, fmt.Errorf("dispatch: session %s already loaded", c.session.ID)
	}
	eng, err := pattern.New(patternName, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	sess := &models.Session{
		ID:           "session-" + uuid.New().String()[:8],
		Pattern:      patternName,
		Requirements: requirements,
		Status:       models.SessionInitializing,
		CreatedAt:    time.Now(),
	}
	c.session = sess
	c.engine = eng
	c.pstate = pattern.NewState()

	for _, t := range eng.Plan(requirements) {
		if _, err := c.createPlannedLocked(t); err != nil {
			c.session = nil
			c.engine = nil
			c.pstate = nil
			c.tasks = task.NewStore(c.roles)
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}

	sess.Status = models.SessionActive
	debugLog("dispatch: session %s pattern %s, %d tasks planned", sess.ID, patternName, c.tasks.Size())
	c.emit(Event{Type: EventSessionStarted, SessionID: sess.ID, Message: patternName, Timestamp: time.Now()})

	if err := c.advanceLocked(); err != nil {
		return sess, err
	}
	return sess, nil
}

// createPlannedLocked creates one planned task, resolving BlockedBy subject
// references against tasks already in the store.
func (c *Coordinator) createPlannedLocked(t *models.Task) (string, error) {
	cp := t.Clone()
	cp.SessionID = c.session.ID
	deps := make([]string, 0, len(cp.BlockedBy))
	for _, ref := range cp.BlockedBy {
		id, err := c.resolveRefLocked(ref)
		if err != nil {
			return "", err
		}
		deps = append(deps, id)
	}
	cp.BlockedBy = deps
	return c.tasks.Create(cp)
}

// resolveRefLocked maps a subject or task ID to a task ID.
func (c *Coordinator) resolveRefLocked(ref string) (string, error) {
	if t := c.tasks.GetBySubject(ref); t != nil {
		return t.ID, nil
	}
	if _, err := c.tasks.Get(ref); err == nil {
		return ref, nil
	}
	return "", fmt.Errorf("resolve dependency %q: %w", ref, task.ErrUnknownDependency)
}

// snapshotLocked computes one consistent strategy context. Decisions are
// always derived from a snapshot taken before any mutation.
func (c *Coordinator) snapshotLocked() pattern.Context {
	tasks := c.tasks.Snapshot()
	return pattern.Context{
		Session:  c.session,
		Tasks:    tasks,
		Ready:    graph.ReadySet(tasks),
		Messages: c.bus.List(bus.Filter{AfterSeq: c.pstate.Cursor}),
	}
}

// advanceLocked runs decide/apply rounds until the strategy has nothing more
// to do without new input, then checks for checkpoint pauses and persists.
func (c *Coordinator) advanceLocked() error {
	if c.session == nil {
		return fmt.Errorf("advance: no session loaded")
	}
	if c.session.Status != models.SessionActive {
		return c.persistLocked()
	}

	for round := 0; round < maxDecideRounds; round++ {
		ctx := c.snapshotLocked()
		d, err := c.engine.Decide(ctx, c.pstate)
		c.pstate.Cursor = c.bus.LastSeq()
		if err != nil {
			// Strategy-terminal failures (quorum, exhausted escalation)
			// surface externally with a report and pause the session.
			c.escalateLocked(&pattern.Escalation{
				Reason:    err.Error(),
				Diagnosis: c.pstate.Diagnosis,
			})
			if perr := c.persistLocked(); perr != nil {
				return perr
			}
			return err
		}
		if d.Note != "" {
			debugLog("decide [%s]: %s", c.engine.Name(), d.Note)
		}

		if err := c.applyLocked(d); err != nil {
			return err
		}
		if d.Done || d.Escalate != nil || c.session.Status != models.SessionActive {
			break
		}
		// Spawns and continuations put work in flight; nothing more to
		// decide until a wake source fires.
		if len(d.Spawn) > 0 || len(d.Continue) > 0 || d.Empty() {
			break
		}
	}

	c.checkpointPauseLocked()
	return c.persistLocked()
}

// persistLocked writes the session, task snapshot, and strategy state.
// Messages persist through the bus sink at append time.
func (c *Coordinator) persistLocked() error {
	if c.db == nil || c.session == nil {
		return nil
	}
	if err := c.db.SaveSession(c.session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := c.db.SaveTasks(c.session.ID, c.tasks.Snapshot()); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	raw, err := json.Marshal(c.pstate)
	if err != nil {
		return fmt.Errorf("marshal pattern state: %w", err)
	}
	if err := c.db.SavePatternState(c.session.ID, raw); err != nil {
		return fmt.Errorf("persist pattern state: %w", err)
	}
	return nil
}

func (c *Coordinator) emit(e Event) {
	if c.emitter != nil {
		c.emitter.Emit(e)
	}
}

// buildPrompt assembles the worker invocation input: role instructions, the
// task, session context, and the structured output contract.
func buildPrompt(role roles.Role, t *models.Task, sess *models.Session) string {
	var b strings.Builder
	if role.Prompt != "" {
		b.WriteString(role.Prompt)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Task %s (%s):\n%s\n\n", t.ID, t.Subject, t.Description)
	fmt.Fprintf(&b, "Session %s, pattern %s. Requirements:\n%s\n\n", sess.ID, sess.Pattern, sess.Requirements)
	b.WriteString("Respond with structured sections: ## Summary (mandatory), " +
		"## Findings or ## Deliverables (mandatory), and optionally " +
		"## Proposed Changes, ## Tests, ## Open Questions. " +
		"Directive lines (Verdict:, Vote:, Confidence:, Touches:, Interface:, " +
		"Artifact:, Item:, Blocked:, Consult:) are parsed by the coordinator.")
	return b.String()
}
