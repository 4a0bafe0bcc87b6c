// Package history implements the Chat History Store (spec.md §4.11): a
// durable, append-only per-session message log that survives process
// restart.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Message types spec.md §3's ChatMessage names.
const (
	MessageUser      = "user"
	MessageAssistant = "assistant"
	MessageTool      = "tool"
	MessageSystem    = "system"
	MessageError     = "error"
)

// Message is one append-only entry in a session's chat log.
type Message struct {
	ID        string
	SessionID string
	Timestamp time.Time
	Type      string
	Content   string
	Metadata  map[string]any
}

// SessionStats summarizes one session for getSessionStats.
type SessionStats struct {
	SessionID    string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// Store is C12, backed by a single SQLite-class file in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and runs any
// pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// CreateSession registers a new active session.
func (s *Store) CreateSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, created_at, updated_at, is_active) VALUES (?, ?, ?, 1)`,
		sessionID, now, now)
	return err
}

// AddMessage appends a message and bumps the session's updated_at.
func (s *Store) AddMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	var metadataJSON sql.NullString
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, timestamp, type, content, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Timestamp, msg.Type, msg.Content, metadataJSON); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE session_id = ?`, time.Now().UTC(), msg.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// GetChatHistory returns every message for sessionID, oldest first.
func (s *Store) GetChatHistory(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, timestamp, type, content, metadata FROM chat_messages
		 WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var metadataJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Type, &m.Content, &metadataJSON); err != nil {
			return nil, err
		}
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearHistory deletes sessionID's messages but leaves the session row.
func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID)
	return err
}

// CloseSession marks sessionID inactive with a close timestamp.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET is_active = 0, closed_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	return err
}

// DeleteSession removes sessionID and its messages (FK cascade).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
	return err
}

// CleanupOldSessions drops every session left inactive from a prior
// process lifetime (spec.md §4.11: "cleanup on startup"). Call once at
// startup before any new session is created.
func (s *Store) CleanupOldSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE is_active = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetActiveSessions lists every session currently marked active.
func (s *Store) GetActiveSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM chat_sessions WHERE is_active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSessionStats reports message count and lifecycle timestamps for one
// session.
func (s *Store) GetSessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	var stats SessionStats
	stats.SessionID = sessionID
	var isActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at, is_active FROM chat_sessions WHERE session_id = ?`, sessionID,
	).Scan(&stats.CreatedAt, &stats.UpdatedAt, &isActive)
	if err != nil {
		return SessionStats{}, err
	}
	stats.IsActive = isActive != 0

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID,
	).Scan(&stats.MessageCount)
	if err != nil {
		return SessionStats{}, err
	}
	return stats, nil
}
