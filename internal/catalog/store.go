package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reportlens/internal/types"
)

// SnapshotStore persists the capability index in SQLite so restarts can serve
// resolutions before the first catalog rebuild completes.
type SnapshotStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSnapshotStore opens (or creates) the snapshot database.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SnapshotStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SnapshotStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS capability_rows (
		name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		row_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_capability_fingerprint ON capability_rows(fingerprint);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create snapshot tables: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with the given index.
func (s *SnapshotStore) Save(idx *Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM capability_rows`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO capability_rows (name, fingerprint, generated_at, row_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range idx.Rows {
		row := &idx.Rows[i]
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row %s: %w", row.Name, err)
		}
		if _, err := stmt.Exec(row.Name, row.Fingerprint, row.GeneratedAt, string(data)); err != nil {
			return fmt.Errorf("failed to insert row %s: %w", row.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot back into an index. Returns nil when the
// store is empty.
func (s *SnapshotStore) Load() (*Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT row_json, generated_at FROM capability_rows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	idx := &Index{}
	idx.Summary.InvalidRows = map[string]int{}
	now := time.Now()
	for rows.Next() {
		var data string
		var generatedAt time.Time
		if err := rows.Scan(&data, &generatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		var row types.CapabilityRow
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			// A corrupt row invalidates the cache, not the process.
			idx.Summary.InvalidRows["row_unmarshal_failed"]++
			continue
		}
		idx.Rows = append(idx.Rows, row)
		idx.Summary.TotalRows++
		if row.Fresh(now) {
			idx.Summary.FreshRows++
		}
		if row.Confidence >= 0.6 {
			idx.Summary.HighConfidence++
		}
		if row.Constraints.RequirementsKnown {
			idx.Summary.KnownRequirements++
		}
		if idx.GeneratedAt.IsZero() || generatedAt.After(idx.GeneratedAt) {
			idx.GeneratedAt = generatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if idx.Summary.TotalRows == 0 {
		return nil, nil
	}
	return idx, nil
}

// Close releases the database handle.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
