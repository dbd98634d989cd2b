package state

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// SaveWorker upserts one worker record.
func (db *DB) SaveWorker(w *models.Worker) error {
	var closedAt *string
	if w.ClosedAt != nil {
		v := formatTime(*w.ClosedAt)
		closedAt = &v
	}

	_, err := db.Exec(`
		INSERT INTO workers (id, session_id, task_id, role, status, pid, spawned_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			closed_at = excluded.closed_at
	`, w.ID, w.SessionID, w.TaskID, w.Role, string(w.Status), w.PID,
		formatTime(w.SpawnedAt), closedAt)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	return nil
}

// LoadWorkers returns all worker records for a session, oldest first.
func (db *DB) LoadWorkers(sessionID string) ([]*models.Worker, error) {
	rows, err := db.Query(`
		SELECT id, session_id, task_id, role, status, pid, spawned_at, closed_at
		FROM workers WHERE session_id = ? ORDER BY spawned_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load workers for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		var (
			w         models.Worker
			spawnedAt string
			closedAt  sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.SessionID, &w.TaskID, &w.Role, &w.Status,
			&w.PID, &spawnedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.SpawnedAt, _ = parseTime(spawnedAt)
		w.ClosedAt = parseNullableTime(closedAt)
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}
