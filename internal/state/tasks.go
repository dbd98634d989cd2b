package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// SaveTask upserts one task row.
func (db *DB) SaveTask(t *models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return saveTaskTx(tx, t)
	})
}

// SaveTasks replaces the stored task snapshot for a session atomically.
// Either the whole new snapshot lands or none of it does.
func (db *DB) SaveTasks(sessionID string, tasks []*models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM tasks WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("clear task snapshot: %w", err)
		}
		for _, t := range tasks {
			if err := saveTaskTx(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveTaskTx(tx *sql.Tx, t *models.Task) error {
	blockedBy, err := json.Marshal(t.BlockedBy)
	if err != nil {
		return fmt.Errorf("marshal blocked_by: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var completedAt *string
	if t.CompletedAt != nil {
		v := formatTime(*t.CompletedAt)
		completedAt = &v
	}

	_, err = tx.Exec(`
		INSERT INTO tasks (id, session_id, subject, owner, status, blocked_by, description, metadata, retry_count, seq, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			blocked_by = excluded.blocked_by,
			description = excluded.description,
			metadata = excluded.metadata,
			retry_count = excluded.retry_count,
			completed_at = excluded.completed_at
	`, t.ID, t.SessionID, t.Subject, t.Owner, string(t.Status), string(blockedBy),
		t.Description, string(metadata), t.RetryCount, t.Seq,
		formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTasks returns the stored task snapshot for a session in creation order.
func (db *DB) LoadTasks(sessionID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, session_id, subject, owner, status, blocked_by, description, metadata, retry_count, seq, created_at, completed_at
		FROM tasks WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load tasks for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var (
			t           models.Task
			blockedBy   string
			metadata    string
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Subject, &t.Owner, &t.Status,
			&blockedBy, &t.Description, &metadata, &t.RetryCount, &t.Seq,
			&createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(blockedBy), &t.BlockedBy); err != nil {
			return nil, fmt.Errorf("unmarshal blocked_by for %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", t.ID, err)
		}
		t.CreatedAt, _ = parseTime(createdAt)
		t.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
