package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSnapshotSchema = `
CREATE TABLE IF NOT EXISTS catalog_snapshots (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	providers BLOB NOT NULL,
	warnings BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS catalog_tools (
	snapshot_id TEXT NOT NULL REFERENCES catalog_snapshots(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);
CREATE INDEX IF NOT EXISTS catalog_tools_name ON catalog_tools(name);`

const (
	defaultSnapshotDir = ".toolmux"
	defaultSnapshotDB  = "toolmux.db"
)

// Snapshot is a persisted copy of a discovered catalog.
type Snapshot struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Providers []string     `json:"providers"`
	Tools     []Descriptor `json:"tools"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// SQLiteSnapshotConfig configures the SQLite-backed snapshot store.
type SQLiteSnapshotConfig struct {
	DSN string
	Now func() time.Time
}

// SQLiteSnapshotStore persists catalog snapshots for later inspection.
type SQLiteSnapshotStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultSnapshotPath returns ~/.toolmux/toolmux.db.
func DefaultSnapshotPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tool: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSnapshotDir, defaultSnapshotDB), nil
}

// NewSQLiteSnapshotStore opens (or creates) a snapshot database.
func NewSQLiteSnapshotStore(cfg SQLiteSnapshotConfig) (*SQLiteSnapshotStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("tool: sqlite snapshot dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("tool: sqlite snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite snapshot open: %w", err)
	}
	// A single connection keeps :memory: databases coherent across calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tool: sqlite snapshot %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSnapshotSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite snapshot create schema: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SQLiteSnapshotStore{db: db, now: now}, nil
}

// Close closes the database.
func (s *SQLiteSnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save records the catalog's routed tools and the discovery warnings.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, catalog *Catalog, warnings []Warning) (Snapshot, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, errors.New("tool: sqlite snapshot store is nil")
	}
	if catalog == nil {
		return Snapshot{}, errors.New("tool: snapshot requires a catalog")
	}

	snap := Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Providers: catalog.ProviderIDs(),
		Tools:     catalog.Tools(),
	}
	for _, warning := range warnings {
		snap.Warnings = append(snap.Warnings, warning.Error())
	}

	providers, err := json.Marshal(snap.Providers)
	if err != nil {
		return Snapshot{}, fmt.Errorf("tool: encode snapshot providers: %w", err)
	}
	warningPayload, err := json.Marshal(snap.Warnings)
	if err != nil {
		return Snapshot{}, fmt.Errorf("tool: encode snapshot warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("tool: sqlite snapshot begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_snapshots (id, created_at, providers, warnings)
VALUES (?, ?, ?, ?)`,
		snap.ID, snap.CreatedAt.Format(time.RFC3339Nano), providers, warningPayload,
	); err != nil {
		return Snapshot{}, fmt.Errorf("tool: sqlite insert snapshot: %w", err)
	}

	for position, desc := range snap.Tools {
		payload, err := json.Marshal(desc)
		if err != nil {
			return Snapshot{}, fmt.Errorf("tool: encode snapshot tool %q: %w", desc.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_tools (snapshot_id, position, name, provider_id, payload)
VALUES (?, ?, ?, ?, ?)`,
			snap.ID, position, desc.Name, desc.ProviderID, payload,
		); err != nil {
			return Snapshot{}, fmt.Errorf("tool: sqlite insert snapshot tool %q: %w", desc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("tool: sqlite snapshot commit: %w", err)
	}
	return snap, nil
}

// Latest returns the most recently saved snapshot.
func (s *SQLiteSnapshotStore) Latest(ctx context.Context) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, errors.New("tool: sqlite snapshot store is nil")
	}
	var id string
	err := s.db.QueryRowContext(ctx, `
SELECT id
FROM catalog_snapshots
ORDER BY created_at DESC, rowid DESC
LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: sqlite latest snapshot: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns a snapshot by id.
func (s *SQLiteSnapshotStore) Get(ctx context.Context, id string) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, errors.New("tool: sqlite snapshot store is nil")
	}

	var (
		createdAt string
		providers []byte
		warnings  []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT created_at, providers, warnings
FROM catalog_snapshots
WHERE id = ?`, id).Scan(&createdAt, &providers, &warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: sqlite get snapshot: %w", err)
	}

	snap := Snapshot{ID: id}
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: decode snapshot time: %w", err)
	}
	if err := json.Unmarshal(providers, &snap.Providers); err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: decode snapshot providers: %w", err)
	}
	if err := json.Unmarshal(warnings, &snap.Warnings); err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: decode snapshot warnings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT payload
FROM catalog_tools
WHERE snapshot_id = ?
ORDER BY position ASC`, id)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: sqlite list snapshot tools: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return Snapshot{}, false, fmt.Errorf("tool: sqlite scan snapshot tool: %w", err)
		}
		var desc Descriptor
		if err := json.Unmarshal(payload, &desc); err != nil {
			return Snapshot{}, false, fmt.Errorf("tool: decode snapshot tool: %w", err)
		}
		snap.Tools = append(snap.Tools, desc)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("tool: sqlite snapshot tool rows: %w", err)
	}
	return snap, true, nil
}

// FindTool returns the most recent snapshot entry for a tool name.
func (s *SQLiteSnapshotStore) FindTool(ctx context.Context, name string) (Descriptor, bool, error) {
	if s == nil || s.db == nil {
		return Descriptor{}, false, errors.New("tool: sqlite snapshot store is nil")
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
SELECT t.payload
FROM catalog_tools t
JOIN catalog_snapshots s ON s.id = t.snapshot_id
WHERE t.name = ?
ORDER BY s.created_at DESC, s.rowid DESC
LIMIT 1`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Descriptor{}, false, nil
	}
	if err != nil {
		return Descriptor{}, false, fmt.Errorf("tool: sqlite find tool: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return Descriptor{}, false, fmt.Errorf("tool: decode snapshot tool: %w", err)
	}
	return desc, true, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SQLiteSnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("tool: sqlite snapshot store is nil")
	}
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM catalog_snapshots
WHERE id NOT IN (
	SELECT id FROM catalog_snapshots
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("tool: sqlite prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
