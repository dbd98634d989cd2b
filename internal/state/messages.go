package state

import (
	"fmt"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// AppendMessage persists one message. It implements the bus's durable sink:
// the bus calls it before committing the message in memory, so the log never
// shows a message that did not reach disk.
func (db *DB) AppendMessage(m models.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (session_id, seq, sender, recipient, type, task_id, payload, artifact, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.SessionID, m.Seq, m.From, m.To, string(m.Type), m.TaskID, m.Payload, m.Artifact, formatTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("append message %d: %w", m.Seq, err)
	}
	return nil
}

// LoadMessages returns the persisted log for a session after the given
// sequence number, in order. afterSeq 0 replays everything.
func (db *DB) LoadMessages(sessionID string, afterSeq int64) ([]models.Message, error) {
	rows, err := db.Query(`
		SELECT session_id, seq, sender, recipient, type, task_id, payload, artifact, timestamp
		FROM messages WHERE session_id = ? AND seq > ? ORDER BY seq
	`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m  models.Message
			ts string
		)
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.From, &m.To, &m.Type,
			&m.TaskID, &m.Payload, &m.Artifact, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = parseTime(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
