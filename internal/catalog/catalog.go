// Package catalog implements the vault catalog (vault.db): the durable,
// per-session record store with mtime-wins upsert semantics (spec.md §4.2).
package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

// UpsertResult reports what upsert_session did to a row.
type UpsertResult int

const (
	NoChange UpsertResult = iota
	Inserted
	Updated
	Skipped
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "no_change"
	}
}

// Entry is one catalog row (the Session projection spec.md §3 describes).
type Entry struct {
	SessionID     string
	Source        string
	MachineID     string
	Mtime         int64
	FileSize      int64
	LastSynced    int64
	Title         string
	WorkspaceName string
	CreatedAt     string
	VaultPath     string
	OriginalPath  string
}

// Catalog owns a single connection to vault.db and serializes access to it;
// concurrent writers beyond this process synchronize via SQLite's own
// locking (WAL + busy_timeout).
type Catalog struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates "<vaultDir>/vault.db", ensures its schema, and
// configures WAL + busy-timeout durability pragmas (spec.md §4.2 "open").
func Open(vaultDir string) (*Catalog, error) {
	if err := os.MkdirAll(vaultDir, 0o755); err != nil {
		return nil, echoerrors.IOErr("create vault directory", err)
	}

	path := filepath.Join(vaultDir, "vault.db")
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, echoerrors.DatabaseErr("open catalog", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, echoerrors.DatabaseErr("set catalog pragma", err)
		}
	}

	c := &Catalog{db: db}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		machine_id TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		file_size INTEGER NOT NULL,
		last_synced INTEGER NOT NULL,
		title TEXT,
		workspace_name TEXT,
		created_at TEXT,
		vault_path TEXT NOT NULL,
		original_path TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source);
	CREATE INDEX IF NOT EXISTS idx_sessions_machine_id ON sessions(machine_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_mtime ON sessions(mtime);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		machine_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		action TEXT NOT NULL,
		details TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_synced_db_version INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO sync_state (id, last_synced_db_version) VALUES (1, 0);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return echoerrors.DatabaseErr("create catalog schema", err)
	}
	return nil
}

// UpsertSession applies the mtime-wins rule for entry: a strictly greater
// mtime than the existing row overwrites every field; strictly less is
// skipped; equal is a no-op. On insert, last_synced is stamped with now.
func (c *Catalog) UpsertSession(ctx context.Context, entry Entry, now int64) (UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return NoChange, echoerrors.DatabaseErr("begin upsert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := upsertOne(ctx, tx, entry, now)
	if err != nil {
		return NoChange, err
	}
	if err := tx.Commit(); err != nil {
		return NoChange, echoerrors.DatabaseErr("commit upsert transaction", err)
	}
	return result, nil
}

// UpsertBatch applies UpsertSession for every entry inside a single
// transaction and prepared statement, returning per-outcome counts
// (spec.md §4.2 "upsert_batch").
func (c *Catalog) UpsertBatch(ctx context.Context, entries []Entry, now int64) (inserted, updated, skipped int, err error) {
	if len(entries) == 0 {
		return 0, 0, 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, echoerrors.DatabaseErr("begin batch upsert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		result, uerr := upsertOne(ctx, tx, entry, now)
		if uerr != nil {
			return 0, 0, 0, uerr
		}
		switch result {
		case Inserted:
			inserted++
		case Updated:
			updated++
		case Skipped, NoChange:
			skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, echoerrors.DatabaseErr("commit batch upsert transaction", err)
	}
	return inserted, updated, skipped, nil
}

func upsertOne(ctx context.Context, tx *sql.Tx, entry Entry, now int64) (UpsertResult, error) {
	var existingMtime int64
	err := tx.QueryRowContext(ctx, `SELECT mtime FROM sessions WHERE id = ?`, entry.SessionID).Scan(&existingMtime)

	switch {
	case err == sql.ErrNoRows:
		entry.LastSynced = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, source, machine_id, mtime, file_size, last_synced, title, workspace_name, created_at, vault_path, original_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.SessionID, entry.Source, entry.MachineID, entry.Mtime, entry.FileSize, entry.LastSynced,
			nullable(entry.Title), nullable(entry.WorkspaceName), nullable(entry.CreatedAt), entry.VaultPath, entry.OriginalPath); err != nil {
			return NoChange, echoerrors.DatabaseErr("insert session", err)
		}
		return Inserted, nil

	case err != nil:
		return NoChange, echoerrors.DatabaseErr("query existing session mtime", err)

	case entry.Mtime > existingMtime:
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET source = ?, machine_id = ?, mtime = ?, file_size = ?, title = ?, workspace_name = ?, created_at = ?, vault_path = ?, original_path = ?
			WHERE id = ?
		`, entry.Source, entry.MachineID, entry.Mtime, entry.FileSize,
			nullable(entry.Title), nullable(entry.WorkspaceName), nullable(entry.CreatedAt), entry.VaultPath, entry.OriginalPath, entry.SessionID); err != nil {
			return NoChange, echoerrors.DatabaseErr("update session", err)
		}
		return Updated, nil

	case entry.Mtime == existingMtime:
		return NoChange, nil

	default:
		return Skipped, nil
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetSessionMtime returns the stored mtime for id, or ok=false if absent.
func (c *Catalog) GetSessionMtime(ctx context.Context, id string) (mtime int64, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.db.QueryRowContext(ctx, `SELECT mtime FROM sessions WHERE id = ?`, id).Scan(&mtime)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, echoerrors.DatabaseErr("query session mtime", err)
	}
	return mtime, true, nil
}

// MtimeMap loads the catalog's full session_id → mtime map in one query
// (spec.md §4.3 step 2: "Load the catalog's mtime map once, in memory").
func (c *Catalog) MtimeMap(ctx context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, mtime FROM sessions`)
	if err != nil {
		return nil, echoerrors.DatabaseErr("query mtime map", err)
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var id string
		var mtime int64
		if err := rows.Scan(&id, &mtime); err != nil {
			return nil, echoerrors.DatabaseErr("scan mtime row", err)
		}
		m[id] = mtime
	}
	return m, rows.Err()
}

// GetAllSessions returns every catalog row.
func (c *Catalog) GetAllSessions(ctx context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source, machine_id, mtime, file_size, last_synced,
		       COALESCE(title, ''), COALESCE(workspace_name, ''), COALESCE(created_at, ''),
		       vault_path, original_path
		FROM sessions
	`)
	if err != nil {
		return nil, echoerrors.DatabaseErr("query all sessions", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Source, &e.MachineID, &e.Mtime, &e.FileSize, &e.LastSynced,
			&e.Title, &e.WorkspaceName, &e.CreatedAt, &e.VaultPath, &e.OriginalPath); err != nil {
			return nil, echoerrors.DatabaseErr("scan session row", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of catalog rows.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, echoerrors.DatabaseErr("count sessions", err)
	}
	return count, nil
}

// CountBySource returns the number of catalog rows for source.
func (c *Catalog) CountBySource(ctx context.Context, source string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE source = ?`, source).Scan(&count); err != nil {
		return 0, echoerrors.DatabaseErr("count sessions by source", err)
	}
	return count, nil
}

// SyncLogEntry is one append-only sync_log row.
type SyncLogEntry struct {
	MachineID string
	Timestamp int64
	Action    string
	Details   string
}

// GetSyncLog returns the sync_log rows in insertion order, most recent last.
func (c *Catalog) GetSyncLog(ctx context.Context) ([]SyncLogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT machine_id, timestamp, action, COALESCE(details, '')
		FROM sync_log ORDER BY id ASC
	`)
	if err != nil {
		return nil, echoerrors.DatabaseErr("query sync log", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.MachineID, &e.Timestamp, &e.Action, &e.Details); err != nil {
			return nil, echoerrors.DatabaseErr("scan sync log row", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LogSync appends a row to the append-only sync_log (spec.md §4.2 "log_sync").
func (c *Catalog) LogSync(ctx context.Context, machineID string, timestamp int64, action, details string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_log (machine_id, timestamp, action, details) VALUES (?, ?, ?, ?)
	`, machineID, timestamp, action, nullable(details)); err != nil {
		return echoerrors.DatabaseErr("append sync log entry", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return echoerrors.DatabaseErr("close catalog", err)
	}
	return nil
}
