package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// SaveSession upserts a session row. Called after every state transition so
// the persisted view never lags the in-memory one by more than one write.
func (db *DB) SaveSession(s *models.Session) error {
	workers, err := json.Marshal(s.ActiveWorkers)
	if err != nil {
		return fmt.Errorf("marshal active workers: %w", err)
	}

	var completedAt *string
	if s.CompletedAt != nil {
		v := formatTime(*s.CompletedAt)
		completedAt = &v
	}

	_, err = db.Exec(`
		INSERT INTO sessions (id, pattern, requirements, status, checkpoint, active_workers, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pattern = excluded.pattern,
			requirements = excluded.requirements,
			status = excluded.status,
			checkpoint = excluded.checkpoint,
			active_workers = excluded.active_workers,
			completed_at = excluded.completed_at
	`, s.ID, s.Pattern, s.Requirements, string(s.Status), s.Checkpoint, string(workers),
		formatTime(s.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, pattern, requirements, status, checkpoint, active_workers, created_at, completed_at
		FROM sessions WHERE id = ?
	`, id)

	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions lists sessions newest first, optionally filtered by status.
func (db *DB) ListSessions(status *models.SessionStatus) ([]*models.Session, error) {
	query := `
		SELECT id, pattern, requirements, status, checkpoint, active_workers, created_at, completed_at
		FROM sessions`
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ActiveSessions returns sessions that have not reached a terminal status.
func (db *DB) ActiveSessions() ([]*models.Session, error) {
	all, err := db.ListSessions(nil)
	if err != nil {
		return nil, err
	}
	var out []*models.Session
	for _, s := range all {
		switch s.Status {
		case models.SessionCompleted, models.SessionAborted:
		default:
			out = append(out, s)
		}
	}
	return out, nil
}

// SavePatternState stores the strategy accumulator checkpointed with the
// session.
func (db *DB) SavePatternState(sessionID string, stateJSON []byte) error {
	_, err := db.Exec("UPDATE sessions SET pattern_state = ? WHERE id = ?", string(stateJSON), sessionID)
	if err != nil {
		return fmt.Errorf("save pattern state for %s: %w", sessionID, err)
	}
	return nil
}

// LoadPatternState returns the strategy accumulator for the session, or nil
// when none was stored.
func (db *DB) LoadPatternState(sessionID string) ([]byte, error) {
	var raw string
	err := db.QueryRow("SELECT pattern_state FROM sessions WHERE id = ?", sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern state for %s: %w", sessionID, err)
	}
	if raw == "" {
		return nil, nil
	}
	return []byte(raw), nil
}

func scanSession(scan func(dest ...any) error) (*models.Session, error) {
	var (
		s           models.Session
		workers     string
		createdAt   string
		completedAt sql.NullString
	)
	if err := scan(&s.ID, &s.Pattern, &s.Requirements, &s.Status, &s.Checkpoint,
		&workers, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(workers), &s.ActiveWorkers); err != nil {
		return nil, fmt.Errorf("unmarshal active workers: %w", err)
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.CompletedAt = parseNullableTime(completedAt)
	return &s, nil
}
