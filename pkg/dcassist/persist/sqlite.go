// sqlite.go implements the history journal backed by SQLite. Drop-in
// replacement for the JSONL journal when a queryable store is wanted.
package persist

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

// SQLiteJournal stores message history in a local SQLite database.
// Implements chat.HistoryPersister.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteJournal opens (and creates, if needed) the database and schema.
func NewSQLiteJournal(path string, logger *slog.Logger) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite journal path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_profile ON messages(profile_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &SQLiteJournal{
		db:     db,
		logger: logger.With("component", "journal"),
	}, nil
}

// SaveMessage appends one row for the message.
func (j *SQLiteJournal) SaveMessage(profileID, sessionID string, msg chat.Message) error {
	_, err := j.db.Exec(`
		INSERT INTO messages (profile_id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		profileID,
		sessionID,
		string(msg.Role),
		msg.Content,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		j.logger.Error("failed to save message", "profile", profileID, "err", err)
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// LoadRecent returns the last limit messages for a profile, oldest first.
// limit <= 0 loads everything.
func (j *SQLiteJournal) LoadRecent(profileID string, limit int) ([]chat.Message, error) {
	query := `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE profile_id = ?
			ORDER BY id DESC
		`
	args := []any{profileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	query += `) ORDER BY id ASC`

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, chat.Message{Role: chat.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// DeleteProfile removes all rows for a profile.
func (j *SQLiteJournal) DeleteProfile(profileID string) error {
	if _, err := j.db.Exec("DELETE FROM messages WHERE profile_id = ?", profileID); err != nil {
		return fmt.Errorf("delete profile history: %w", err)
	}
	return nil
}

// Profiles lists distinct profile IDs present in the journal.
func (j *SQLiteJournal) Profiles() ([]string, error) {
	rows, err := j.db.Query("SELECT DISTINCT profile_id FROM messages ORDER BY profile_id")
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Vacuum reclaims space after large deletes. Called by the maintenance
// scheduler.
func (j *SQLiteJournal) Vacuum() error {
	if _, err := j.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum journal db: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
