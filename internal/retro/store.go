// Package retro persists post-mortem reports and the reusable patterns
// promoted out of them.
package retro

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Report is one stored post-mortem.
type Report struct {
	ID        string
	SessionID string
	Pattern   string
	Summary   string
	Findings  []string
	Partial   bool
	CreatedAt time.Time
}

// Pattern is a finding promoted into the reusable pool. Occurrences counts
// how many sessions surfaced it.
type Pattern struct {
	ID            string
	Finding       string
	SourceSession string
	Occurrences   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store manages post-mortem reports and promoted patterns.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the retro database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Create tables if not exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS retro_reports (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			pattern TEXT,
			summary TEXT,
			findings TEXT,
			partial INT,
			created_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS promoted_patterns (
			id TEXT PRIMARY KEY,
			finding TEXT UNIQUE NOT NULL,
			source_session TEXT,
			occurrences INT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveReport stores a post-mortem report and promotes its promoted findings.
func (s *Store) SaveReport(r *Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()[:8]
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO retro_reports (id, session_id, pattern, summary, findings, partial, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SessionID, r.Pattern, r.Summary, string(findings), boolInt(r.Partial), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport retrieves the most recent report for a session.
func (s *Store) GetReport(sessionID string) (*Report, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, pattern, summary, findings, partial, created_at
		FROM retro_reports
		WHERE session_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, sessionID)

	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no report for session: %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReports returns stored reports, newest first, up to limit (0 = all).
func (s *Store) ListReports(limit int) ([]*Report, error) {
	q := `
		SELECT id, session_id, pattern, summary, findings, partial, created_at
		FROM retro_reports ORDER BY created_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(q+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Promote records a finding in the reusable pool. Repeated promotions of the
// same finding bump its occurrence count instead of duplicating it.
func (s *Store) Promote(finding, sessionID string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO promoted_patterns (id, finding, source_session, occurrences, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(finding) DO UPDATE SET
			occurrences = occurrences + 1,
			updated_at = excluded.updated_at
	`, uuid.New().String()[:8], finding, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("promote finding: %w", err)
	}
	return nil
}

// Patterns returns promoted patterns seen at least minOccurrences times,
// most frequent first.
func (s *Store) Patterns(minOccurrences int) ([]*Pattern, error) {
	if minOccurrences < 1 {
		minOccurrences = 1
	}
	rows, err := s.db.Query(`
		SELECT id, finding, source_session, occurrences, created_at, updated_at
		FROM promoted_patterns
		WHERE occurrences >= ?
		ORDER BY occurrences DESC, created_at
	`, minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Finding, &p.SourceSession, &p.Occurrences,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, &p)
	}
	return patterns, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*Report, error) {
	var (
		r        Report
		findings string
		partial  int
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.Pattern, &r.Summary, &findings, &partial, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if err := json.Unmarshal([]byte(findings), &r.Findings); err != nil {
		return nil, fmt.Errorf("unmarshal findings: %w", err)
	}
	r.Partial = partial != 0
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
