// Package task provides the task store: CRUD and validated status
// transitions over tasks and their dependency edges.
package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Errors returned by store operations.
var (
	// ErrDuplicateSubject indicates a task with the same subject already exists.
	ErrDuplicateSubject = errors.New("duplicate task subject")
	// ErrCycleDetected indicates the new dependency edge would close a cycle.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrInvalidTransition indicates a disallowed status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownOwner indicates the task owner is not a registered role.
	ErrUnknownOwner = errors.New("unknown owner role")
	// ErrUnknownDependency indicates a BlockedBy entry references no known task.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrTaskNotFound indicates the requested task does not exist.
	ErrTaskNotFound = errors.New("task not found")
)

// RoleValidator reports whether a role name is registered.
// The store rejects tasks with unknown owners at creation time rather than
// accepting them silently.
type RoleValidator interface {
	Known(role string) bool
}

// Store holds tasks and their dependency edges for one session.
// All mutations go through its narrow, atomically-applied API.
type Store struct {
	mu sync.RWMutex
	// tasks maps task ID to the task itself.
	tasks map[string]*models.Task
	// bySubject maps subject to task ID for duplicate detection.
	bySubject map[string]string
	// order records creation order for deterministic scheduling.
	order []string
	// nextSeq is the creation sequence counter.
	nextSeq int
	// roles validates task owners. Nil disables owner validation.
	roles RoleValidator
}

// NewStore creates an empty task store.
// The validator may be nil, in which case any owner is accepted.
func NewStore(roles RoleValidator) *Store {
	return &Store{
		tasks:     make(map[string]*models.Task),
		bySubject: make(map[string]string),
		roles:     roles,
	}
}

// Create validates and inserts a task, returning its ID.
// It fails with ErrDuplicateSubject on subject collision, ErrUnknownOwner for
// unregistered owners, ErrUnknownDependency for dangling edges, and
// ErrCycleDetected if the new edges would close a cycle.
func (s *Store) Create(t *models.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(t.Subject) == "" {
		return "", fmt.Errorf("create task: empty subject")
	}
	if _, exists := s.bySubject[t.Subject]; exists {
		return "", fmt.Errorf("create task %q: %w", t.Subject, ErrDuplicateSubject)
	}
	if s.roles != nil && !s.roles.Known(t.Owner) {
		return "", fmt.Errorf("create task %q: owner %q: %w", t.Subject, t.Owner, ErrUnknownOwner)
	}
	for _, dep := range t.BlockedBy {
		if _, exists := s.tasks[dep]; !exists {
			return "", fmt.Errorf("create task %q: dependency %s: %w", t.Subject, dep, ErrUnknownDependency)
		}
	}

	cp := t.Clone()
	if cp.ID == "" {
		cp.ID = "task-" + uuid.New().String()[:8]
	}
	if _, exists := s.tasks[cp.ID]; exists {
		return "", fmt.Errorf("create task %q: id %s already exists", t.Subject, cp.ID)
	}
	if cp.Status == "" {
		cp.Status = models.TaskStatusPending
	}
	if !cp.Status.Valid() {
		return "", fmt.Errorf("create task %q: invalid status %q", t.Subject, cp.Status)
	}
	cp.Seq = s.nextSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	// Insert provisionally, then verify acyclicity over the whole graph.
	s.tasks[cp.ID] = cp
	if s.hasCycleLocked() {
		delete(s.tasks, cp.ID)
		return "", fmt.Errorf("create task %q: %w", t.Subject, ErrCycleDetected)
	}

	s.bySubject[cp.Subject] = cp.ID
	s.order = append(s.order, cp.ID)
	s.nextSeq++
	t.ID = cp.ID
	t.Seq = cp.Seq
	return cp.ID, nil
}

// AddDependency appends a dependency edge to an existing task.
// Used for synthetic checkpoint gates. Fails with ErrCycleDetected if the
// edge would close a cycle.
func (s *Store) AddDependency(id, dependsOn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("add dependency: %w: %s", ErrTaskNotFound, id)
	}
	if _, exists := s.tasks[dependsOn]; !exists {
		return fmt.Errorf("add dependency: %w: %s", ErrUnknownDependency, dependsOn)
	}
	for _, dep := range t.BlockedBy {
		if dep == dependsOn {
			return nil // already present
		}
	}

	t.BlockedBy = append(t.BlockedBy, dependsOn)
	if s.hasCycleLocked() {
		t.BlockedBy = t.BlockedBy[:len(t.BlockedBy)-1]
		return fmt.Errorf("add dependency %s -> %s: %w", id, dependsOn, ErrCycleDetected)
	}
	return nil
}

// Update applies the given changes to a task.
// Status changes are validated against the transition table and fail with
// ErrInvalidTransition when disallowed.
func (s *Store) Update(id string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("update task: %w: %s", ErrTaskNotFound, id)
	}

	if upd.Status != nil && *upd.Status != t.Status {
		if !t.Status.CanTransition(*upd.Status) {
			return fmt.Errorf("update task %s: %s -> %s: %w", id, t.Status, *upd.Status, ErrInvalidTransition)
		}
		t.Status = *upd.Status
		if t.Status.Terminal() {
			now := time.Now()
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	for k, v := range upd.Meta {
		t.SetMeta(k, v)
	}
	if upd.IncrementRetry {
		t.RetryCount++
	}
	if upd.ResetRetry {
		t.RetryCount = 0
	}
	return nil
}

// Update describes a partial change to a task.
type Update struct {
	// Status is the new status, validated against the transition table.
	Status *models.TaskStatus
	// Description replaces the task description when non-nil.
	Description *string
	// Meta entries are merged into the task metadata.
	Meta map[string]string
	// IncrementRetry bumps the retry counter.
	IncrementRetry bool
	// ResetRetry zeroes the retry counter. Used when an external escalation
	// decision grants the task a fresh budget.
	ResetRetry bool
}

// StatusUpdate is a convenience constructor for a status-only update.
func StatusUpdate(status models.TaskStatus) Update {
	return Update{Status: &status}
}

// Get returns a copy of the task with the given ID.
func (s *Store) Get(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("get task: %w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// GetBySubject returns a copy of the task with the given subject, or nil.
func (s *Store) GetBySubject(subject string) *models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.bySubject[subject]
	if !exists {
		return nil
	}
	return s.tasks[id].Clone()
}

// Filter narrows the result of List. Zero values match everything.
type Filter struct {
	// Status matches tasks with this status.
	Status models.TaskStatus
	// Owner matches tasks owned by this role.
	Owner string
	// MetaKey matches tasks that have this metadata key set.
	MetaKey string
}

func (f Filter) matches(t *models.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Owner != "" && t.Owner != f.Owner {
		return false
	}
	if f.MetaKey != "" && t.Meta(f.MetaKey) == "" {
		return false
	}
	return true
}

// List returns copies of all matching tasks in creation order.
func (s *Store) List(f Filter) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, id := range s.order {
		if t := s.tasks[id]; f.matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Snapshot returns copies of all tasks in creation order.
// Scheduling decisions are always computed from one snapshot taken before
// any mutation.
func (s *Store) Snapshot() []*models.Task {
	return s.List(Filter{})
}

// IsReady reports whether every dependency of the task is satisfied
// (completed or skipped) and the task itself is still pending.
func (s *Store) IsReady(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[id]
	if !exists || t.Status != models.TaskStatusPending {
		return false
	}
	for _, dep := range t.BlockedBy {
		d, ok := s.tasks[dep]
		if !ok || !d.Status.Satisfied() {
			return false
		}
	}
	return true
}

// Size returns the number of tasks in the store.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// hasCycleLocked detects a cycle in the dependency edges using depth-first
// search with coloring. Assumes the lock is held.
func (s *Store) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(s.tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		t := s.tasks[id]
		if t != nil {
			for _, dep := range t.BlockedBy {
				switch colors[dep] {
				case 1:
					return true // back edge
				case 0:
					if _, exists := s.tasks[dep]; exists && visit(dep) {
						return true
					}
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range s.tasks {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// PruneDangling removes BlockedBy references that point to no known task and
// returns how many edges were removed. Reconciliation uses it to clear edges
// left behind by tasks that were lost with an interrupted session.
func (s *Store) PruneDangling() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for _, t := range s.tasks {
		kept := t.BlockedBy[:0]
		for _, dep := range t.BlockedBy {
			if _, exists := s.tasks[dep]; exists {
				kept = append(kept, dep)
			} else {
				pruned++
			}
		}
		t.BlockedBy = kept
	}
	return pruned
}

// Restore loads previously persisted tasks into an empty store, preserving
// their IDs and sequence numbers. Used during session reconciliation.
func (s *Store) Restore(tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) != 0 {
		return fmt.Errorf("restore: store not empty")
	}

	sorted := make([]*models.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, t := range sorted {
		cp := t.Clone()
		s.tasks[cp.ID] = cp
		s.bySubject[cp.Subject] = cp.ID
		s.order = append(s.order, cp.ID)
		if cp.Seq >= s.nextSeq {
			s.nextSeq = cp.Seq + 1
		}
	}
	if s.hasCycleLocked() {
		return fmt.Errorf("restore: %w", ErrCycleDetected)
	}
	return nil
}
