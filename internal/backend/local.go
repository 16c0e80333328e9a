package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"reportlens/internal/logging"
	"reportlens/internal/types"
)

// LocalBackend is a sqlite-backed implementation of all three backend
// surfaces. Report results come from seeded fixture tables, document writes
// land in a documents table, and entity masters back filter validation.
type LocalBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalBackend opens (or creates) the backend database.
func NewLocalBackend(path string) (*LocalBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &LocalBackend{db: db, dbPath: path}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Backend("local backend ready at %s", path)
	return b, nil
}

func (b *LocalBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS report_fixtures (
		capability TEXT PRIMARY KEY,
		columns_json TEXT NOT NULL,
		rows_json TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		aliases_json TEXT NOT NULL,
		PRIMARY KEY (kind, name)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		doctype TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create backend tables: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *LocalBackend) Close() error {
	return b.db.Close()
}

// Execute returns the seeded table for a capability with equality filters
// applied against matching columns. Filters whose key matches no column are
// ignored, mirroring how report parameters outside the result set behave.
func (b *LocalBackend) Execute(ctx context.Context, capability string, filters map[string]string) (*types.Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var columnsJSON, rowsJSON string
	err := b.db.QueryRowContext(ctx,
		"SELECT columns_json, rows_json FROM report_fixtures WHERE capability = ?",
		strings.ToLower(strings.TrimSpace(capability)),
	).Scan(&columnsJSON, &rowsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityUnknown, capability)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report fixture: %w", err)
	}

	table := &types.Table{}
	if err := json.Unmarshal([]byte(columnsJSON), &table.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode fixture columns: %w", err)
	}
	if err := json.Unmarshal([]byte(rowsJSON), &table.Rows); err != nil {
		return nil, fmt.Errorf("failed to decode fixture rows: %w", err)
	}

	table.Rows = applyEqualityFilters(table, filters)
	logging.Backend("executed %s rows=%d", capability, len(table.Rows))
	return table, nil
}

func applyEqualityFilters(table *types.Table, filters map[string]string) [][]interface{} {
	rows := table.Rows
	for key, value := range filters {
		v := strings.TrimSpace(value)
		if v == "" {
			continue
		}
		col := matchFilterColumn(table.Columns, key)
		if col < 0 {
			continue
		}
		var kept [][]interface{}
		for _, row := range rows {
			if col < len(row) && strings.EqualFold(strings.TrimSpace(fmt.Sprintf("%v", row[col])), v) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return rows
}

func matchFilterColumn(columns []string, key string) int {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", " ")
	if k == "" {
		return -1
	}
	for i, c := range columns {
		cn := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c)), "_", " ")
		if cn == k || strings.Contains(cn, k) || strings.Contains(k, cn) {
			return i
		}
	}
	return -1
}

// Apply executes a confirmed write draft. Create inserts a new document,
// update overwrites an existing one, delete removes it. The returned map
// carries the identity fields reported back to the user.
func (b *LocalBackend) Apply(ctx context.Context, draft *types.WriteDraft) (map[string]string, error) {
	if draft == nil {
		return nil, fmt.Errorf("nil write draft")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	op := strings.ToLower(strings.TrimSpace(draft.Operation))
	name := strings.TrimSpace(draft.Payload["name"])

	switch op {
	case "create":
		if name == "" {
			name = fmt.Sprintf("%s-%s", strings.ToUpper(strings.ReplaceAll(draft.Doctype, " ", "")), uuid.NewString()[:8])
		}
		payloadJSON, err := json.Marshal(draft.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode write payload: %w", err)
		}
		_, err = b.db.ExecContext(ctx,
			"INSERT INTO documents (name, doctype, payload_json, updated_at) VALUES (?, ?, ?, ?)",
			name, draft.Doctype, string(payloadJSON), time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
	case "update":
		if name == "" {
			return nil, fmt.Errorf("update requires a document name")
		}
		payloadJSON, err := json.Marshal(draft.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode write payload: %w", err)
		}
		res, err := b.db.ExecContext(ctx,
			"UPDATE documents SET payload_json = ?, updated_at = ? WHERE name = ? AND doctype = ?",
			string(payloadJSON), time.Now().UTC(), name, draft.Doctype)
		if err != nil {
			return nil, fmt.Errorf("failed to update document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("document %s not found", name)
		}
	case "delete":
		if name == "" {
			return nil, fmt.Errorf("delete requires a document name")
		}
		res, err := b.db.ExecContext(ctx,
			"DELETE FROM documents WHERE name = ? AND doctype = ?", name, draft.Doctype)
		if err != nil {
			return nil, fmt.Errorf("failed to delete document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("document %s not found", name)
		}
	default:
		return nil, fmt.Errorf("unsupported write operation %q", draft.Operation)
	}

	logging.Backend("applied %s %s %s", op, draft.Doctype, name)
	return map[string]string{
		"name":      name,
		"doctype":   draft.Doctype,
		"operation": op,
	}, nil
}

// Candidates lists the master records of one entity kind, sorted by name.
func (b *LocalBackend) Candidates(ctx context.Context, kind string) ([]Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx,
		"SELECT name, aliases_json FROM entities WHERE kind = ? ORDER BY name",
		strings.ToLower(strings.TrimSpace(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var name, aliasesJSON string
		if err := rows.Scan(&name, &aliasesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		var aliases []string
		if err := json.Unmarshal([]byte(aliasesJSON), &aliases); err != nil {
			return nil, fmt.Errorf("failed to decode entity aliases: %w", err)
		}
		out = append(out, Entity{Name: name, Aliases: dedupeKeepOrder(append([]string{name}, aliases...))})
	}
	return out, rows.Err()
}

// Seed loads a fixture set, replacing any previously seeded data.
func (b *LocalBackend) Seed(set *FixtureSet) error {
	if set == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM report_fixtures"); err != nil {
		return fmt.Errorf("failed to clear report fixtures: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM entities"); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}

	for _, r := range set.Reports {
		columnsJSON, err := json.Marshal(r.Columns)
		if err != nil {
			return fmt.Errorf("failed to encode fixture columns: %w", err)
		}
		rowsJSON, err := json.Marshal(r.Rows)
		if err != nil {
			return fmt.Errorf("failed to encode fixture rows: %w", err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO report_fixtures (capability, columns_json, rows_json) VALUES (?, ?, ?)",
			strings.ToLower(strings.TrimSpace(r.Capability)), string(columnsJSON), string(rowsJSON))
		if err != nil {
			return fmt.Errorf("failed to seed report fixture %s: %w", r.Capability, err)
		}
	}
	for _, e := range set.Entities {
		aliasesJSON, err := json.Marshal(e.Aliases)
		if err != nil {
			return fmt.Errorf("failed to encode entity aliases: %w", err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO entities (kind, name, aliases_json) VALUES (?, ?, ?)",
			strings.ToLower(strings.TrimSpace(e.Kind)), strings.TrimSpace(e.Name), string(aliasesJSON))
		if err != nil {
			return fmt.Errorf("failed to seed entity %s/%s: %w", e.Kind, e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	logging.Backend("seeded %d report fixtures, %d entities", len(set.Reports), len(set.Entities))
	return nil
}
