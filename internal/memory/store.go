package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reportlens/internal/logging"
	"reportlens/internal/types"
)

// ErrNoPendingState is returned when a caller expects a pending
// clarification or write confirmation and the session has none.
var ErrNoPendingState = fmt.Errorf("session has no pending state")

// SessionStore persists per-session topic state, pending continuations, and
// the last result snapshot. Each session row is read once at turn start and
// written once at turn end.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// SessionRecord is everything the engine needs from a session at turn start.
type SessionRecord struct {
	TopicState *types.TopicState
	Pending    *types.PendingState
	LastResult *types.Payload
	UpdatedAt  time.Time
}

// NewSessionStore opens (or creates) the session database.
func NewSessionStore(path string) (*SessionStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SessionStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("session store ready at %s", path)
	return store, nil
}

func (s *SessionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		topic_state_json TEXT,
		pending_state_json TEXT,
		last_result_json TEXT,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS write_executions (
		idempotency_key TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		executed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_write_executions_session ON write_executions(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session tables: %w", err)
	}
	return nil
}

// Load returns the session record, or an empty record for a new session.
func (s *SessionStore) Load(sessionID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := &SessionRecord{}
	var topicJSON, pendingJSON, resultJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT topic_state_json, pending_state_json, last_result_json, updated_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&topicJSON, &pendingJSON, &resultJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if topicJSON.Valid && topicJSON.String != "" {
		var ts types.TopicState
		if err := json.Unmarshal([]byte(topicJSON.String), &ts); err == nil {
			rec.TopicState = &ts
		}
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		var ps types.PendingState
		if err := json.Unmarshal([]byte(pendingJSON.String), &ps); err == nil && ps.Mode != "" {
			rec.Pending = &ps
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var p types.Payload
		if err := json.Unmarshal([]byte(resultJSON.String), &p); err == nil && p.Type != "" {
			rec.LastResult = &p
		}
	}
	return rec, nil
}

// Save writes the end-of-turn session record. Nil fields clear their columns.
func (s *SessionStore) Save(sessionID string, rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marshal := func(v interface{}) (string, error) {
		if v == nil {
			return "", nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	var topicJSON, pendingJSON, resultJSON string
	var err error
	if rec.TopicState != nil {
		if topicJSON, err = marshal(rec.TopicState); err != nil {
			return fmt.Errorf("failed to marshal topic state: %w", err)
		}
	}
	if rec.Pending != nil {
		if pendingJSON, err = marshal(rec.Pending); err != nil {
			return fmt.Errorf("failed to marshal pending state: %w", err)
		}
	}
	if rec.LastResult != nil {
		if resultJSON, err = marshal(rec.LastResult); err != nil {
			return fmt.Errorf("failed to marshal last result: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, topic_state_json, pending_state_json, last_result_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			topic_state_json = excluded.topic_state_json,
			pending_state_json = excluded.pending_state_json,
			last_result_json = excluded.last_result_json,
			updated_at = excluded.updated_at`,
		sessionID, nullable(topicJSON), nullable(pendingJSON), nullable(resultJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// MarkWriteExecuted records an idempotency key. Returns false when the key
// was already recorded, meaning the write must not run again.
func (s *SessionStore) MarkWriteExecuted(sessionID, idempotencyKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO write_executions (idempotency_key, session_id, executed_at) VALUES (?, ?, ?)`,
		idempotencyKey, sessionID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record write execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check write execution: %w", err)
	}
	return n == 1, nil
}

// Close releases the database handle.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
