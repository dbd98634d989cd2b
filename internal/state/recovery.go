package state

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// Snapshot is everything needed to reconcile one session after an
// interruption: the session row, its task graph, the persisted message log,
// and the worker records.
type Snapshot struct {
	Session      *models.Session
	Tasks        []*models.Task
	Messages     []models.Message
	Workers      []*models.Worker
	PatternState []byte
}

// LoadSnapshot reads the full persisted state of one session.
func (db *DB) LoadSnapshot(sessionID string) (*Snapshot, error) {
	session, err := db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}

	tasks, err := db.LoadTasks(sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := db.LoadMessages(sessionID, 0)
	if err != nil {
		return nil, err
	}
	workers, err := db.LoadWorkers(sessionID)
	if err != nil {
		return nil, err
	}
	patternState, err := db.LoadPatternState(sessionID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Session:      session,
		Tasks:        tasks,
		Messages:     msgs,
		Workers:      workers,
		PatternState: patternState,
	}, nil
}

// InterruptedSession summarizes a session found non-terminal on startup.
type InterruptedSession struct {
	SessionID    string
	Pattern      string
	Status       models.SessionStatus
	CreatedAt    time.Time
	LiveWorkers  int
	DeadWorkers  int
	PendingTasks int
}

// FindInterrupted returns summaries for every non-terminal session,
// classifying each declared worker as live or dead by process liveness.
func (db *DB) FindInterrupted() ([]InterruptedSession, error) {
	sessions, err := db.ActiveSessions()
	if err != nil {
		return nil, err
	}

	var out []InterruptedSession
	for _, s := range sessions {
		info := InterruptedSession{
			SessionID: s.ID,
			Pattern:   s.Pattern,
			Status:    s.Status,
			CreatedAt: s.CreatedAt,
		}
		for _, w := range s.ActiveWorkers {
			if w.PID > 0 && ProcessAlive(w.PID) {
				info.LiveWorkers++
			} else {
				info.DeadWorkers++
			}
		}

		tasks, err := db.LoadTasks(s.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if !t.Status.Terminal() {
				info.PendingTasks++
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// ProcessAlive reports whether the process with the given PID exists.
// Signal 0 probes without delivering anything.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
