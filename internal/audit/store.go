// Package audit persists session and command history to SQLite. The live
// conversation log stays in memory; this store records lifecycle facts and
// explicitly exported transcripts.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentmux/agentmux/internal/session"
)

// Store handles audit persistence
type Store struct {
	db *sql.DB
}

// SessionRecord is one row of session history.
type SessionRecord struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	WorkingDir     string     `json:"working_dir"`
	CapabilityMode string     `json:"capability_mode"`
	CreatedAt      time.Time  `json:"created_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

// CommandRecord is one row of command history.
type CommandRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Prompt     string    `json:"prompt"`
	Outcome    string    `json:"outcome"`
	NumTurns   int       `json:"num_turns"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// NewStore opens (creating if needed) the audit database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT,
		working_dir TEXT NOT NULL,
		capability_mode TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		removed_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		outcome TEXT NOT NULL,
		num_turns INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id);
	CREATE TABLE IF NOT EXISTS transcript_entries (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		text TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSessionCreated inserts a session row.
func (s *Store) RecordSessionCreated(info session.Info) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, name, working_dir, capability_mode, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.WorkingDirectory, info.CapabilityMode, info.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordSessionRemoved stamps the removal time.
func (s *Store) RecordSessionRemoved(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET removed_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session removed: %w", err)
	}
	return nil
}

// RecordCommand inserts a command row once its stream has terminated.
func (s *Store) RecordCommand(rec CommandRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO commands (id, session_id, prompt, outcome, num_turns, duration_ms, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Prompt, rec.Outcome, rec.NumTurns, rec.DurationMs, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

// ExportTranscript persists a snapshot of a session's conversation log.
// Any prior export for the session is replaced.
func (s *Store) ExportTranscript(sessionID string, entries []session.TranscriptEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM transcript_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear prior export: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.Exec(
			`INSERT INTO transcript_entries (session_id, seq, kind, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, i, string(e.Kind), e.Text, e.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert transcript entry: %w", err)
		}
	}
	return tx.Commit()
}

// Transcript returns a previously exported conversation log.
func (s *Store) Transcript(sessionID string) ([]session.TranscriptEntry, error) {
	rows, err := s.db.Query(
		`SELECT kind, text, created_at FROM transcript_entries WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []session.TranscriptEntry
	for rows.Next() {
		var e session.TranscriptEntry
		var kind string
		var text sql.NullString
		if err := rows.Scan(&kind, &text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		e.Kind = session.EntryKind(kind)
		e.Text = text.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CommandHistory returns the most recent commands for a session.
func (s *Store) CommandHistory(sessionID string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, prompt, outcome, num_turns, duration_ms, started_at
		 FROM commands WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Prompt, &rec.Outcome, &rec.NumTurns, &rec.DurationMs, &rec.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
