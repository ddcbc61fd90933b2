// Package sqlite is HostBridge's embedded SQLite persistence layer: audit
// log, context snapshots/events/memory/semantic indexes, and queue state,
// over database/sql and mattn/go-sqlite3 with WAL journaling.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hostbridge/hostbridge/internal/types"
)

// DB wraps a *sql.DB opened against a WAL-journaled SQLite file.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path with WAL
// journaling, a 5s busy timeout, and foreign keys enabled, then runs
// migrations.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	conn.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid lock contention across pooled conns

	if _, err := conn.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: set synchronous: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			place_id INTEGER,
			session_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS context_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			event TEXT NOT NULL,
			fields TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS context_snapshots (
			context_id TEXT PRIMARY KEY,
			place_id INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			project_key TEXT NOT NULL,
			context_version INTEGER NOT NULL,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS context_memory (
			context_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS context_semantic (
			context_id TEXT NOT NULL,
			context_version INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (context_id, context_version)
		);`,
		`CREATE TABLE IF NOT EXISTS queue_state (
			place_id INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			job_id TEXT,
			tx_body TEXT NOT NULL,
			PRIMARY KEY (place_id, session_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := d.conn.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// AppendAudit inserts one audit_log row.
func (d *DB) AppendAudit(scope types.Scope, kind, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO audit_log (occurred_at, place_id, session_id, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), scope.PlaceID, scope.SessionID, kind, detail,
	)
	return err
}

// AppendContextEvent inserts one context_events row, JSON-encoding fields.
func (d *DB) AppendContextEvent(contextID, event string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event fields: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO context_events (context_id, occurred_at, event, fields) VALUES (?, ?, ?, ?)`,
		contextID, time.Now().UTC().Format(time.RFC3339Nano), event, string(body),
	)
	return err
}

// SaveSnapshot upserts a context snapshot row.
func (d *DB) SaveSnapshot(snap *types.ContextSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO context_snapshots (context_id, place_id, session_id, project_key, context_version, body, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(context_id) DO UPDATE SET context_version=excluded.context_version, body=excluded.body, updated_at=excluded.updated_at`,
		snap.ContextID, snap.ContextKey.Scope.PlaceID, snap.ContextKey.Scope.SessionID, snap.ContextKey.ProjectKey,
		snap.ContextVersion, string(body), snap.ServerReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SaveSemantic upserts a semantic index row for (contextID, contextVersion).
func (d *DB) SaveSemantic(idx *types.SemanticIndex) error {
	body, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("sqlite: marshal semantic index: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO context_semantic (context_id, context_version, body) VALUES (?, ?, ?)
		 ON CONFLICT(context_id, context_version) DO UPDATE SET body=excluded.body`,
		idx.ContextID, idx.ContextVersion, string(body),
	)
	return err
}

// SaveMemory upserts a context memory row.
func (d *DB) SaveMemory(mem *types.ContextMemory) error {
	_, err := d.conn.Exec(
		`INSERT INTO context_memory (context_id, text, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(context_id) DO UPDATE SET text=excluded.text, updated_at=excluded.updated_at`,
		mem.ContextKey.Key(), mem.Text, mem.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DeleteContext removes every row associated with contextID across the
// snapshot, memory, and semantic tables.
func (d *DB) DeleteContext(contextID string) error {
	for _, stmt := range []string{
		`DELETE FROM context_snapshots WHERE context_id = ?`,
		`DELETE FROM context_memory WHERE context_id = ?`,
		`DELETE FROM context_semantic WHERE context_id = ?`,
	} {
		if _, err := d.conn.Exec(stmt, contextID); err != nil {
			return fmt.Errorf("sqlite: delete context: %w", err)
		}
	}
	return nil
}

// LoadAllSnapshots reads every persisted context snapshot, keyed by its
// ContextKey, for the contextstore Reconciler.
func (d *DB) LoadAllSnapshots() (map[types.ContextKey]*types.ContextSnapshot, error) {
	rows, err := d.conn.Query(`SELECT body FROM context_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[types.ContextKey]*types.ContextSnapshot)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var snap types.ContextSnapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			continue
		}
		out[snap.ContextKey] = &snap
	}
	return out, rows.Err()
}

// LoadAllSemantic reads the latest semantic index per context, keyed by
// the snapshot's ContextKey (looked up via its contextID/version match).
func (d *DB) LoadAllSemantic() (map[types.ContextKey]*types.SemanticIndex, error) {
	snaps, err := d.LoadAllSnapshots()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.ContextKey, len(snaps))
	for key, snap := range snaps {
		byID[snap.ContextID] = key
	}

	rows, err := d.conn.Query(`SELECT context_id, context_version, body FROM context_semantic`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load semantic: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]*types.SemanticIndex)
	for rows.Next() {
		var contextID, body string
		var version int64
		if err := rows.Scan(&contextID, &version, &body); err != nil {
			return nil, err
		}
		var idx types.SemanticIndex
		if err := json.Unmarshal([]byte(body), &idx); err != nil {
			continue
		}
		if cur, ok := latest[contextID]; !ok || cur.ContextVersion < idx.ContextVersion {
			latest[contextID] = &idx
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[types.ContextKey]*types.SemanticIndex, len(latest))
	for contextID, idx := range latest {
		if key, ok := byID[contextID]; ok {
			out[key] = idx
		}
	}
	return out, nil
}

// SaveQueueItem upserts a persisted queue row, for crash recovery.
func (d *DB) SaveQueueItem(item types.QueueItem) error {
	body, err := json.Marshal(item.Tx)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tx: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO queue_state (place_id, session_id, seq, job_id, tx_body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(place_id, session_id, seq) DO UPDATE SET job_id=excluded.job_id, tx_body=excluded.tx_body`,
		item.Scope.PlaceID, item.Scope.SessionID, item.Seq, item.JobID, string(body),
	)
	return err
}

// DeleteQueueItem removes a persisted queue row once it has been received.
func (d *DB) DeleteQueueItem(scope types.Scope, seq int64) error {
	_, err := d.conn.Exec(
		`DELETE FROM queue_state WHERE place_id = ? AND session_id = ? AND seq = ?`,
		scope.PlaceID, scope.SessionID, seq,
	)
	return err
}

// LoadQueueItems reads every persisted queue row back in seq order, for
// restoring the in-memory queue after a restart.
func (d *DB) LoadQueueItems() ([]types.QueueItem, error) {
	rows, err := d.conn.Query(`SELECT place_id, session_id, seq, job_id, tx_body FROM queue_state ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load queue: %w", err)
	}
	defer rows.Close()

	var out []types.QueueItem
	for rows.Next() {
		var item types.QueueItem
		var jobID sql.NullString
		var txBody string
		if err := rows.Scan(&item.Scope.PlaceID, &item.Scope.SessionID, &item.Seq, &jobID, &txBody); err != nil {
			return nil, err
		}
		if jobID.Valid {
			item.JobID = jobID.String
		}
		if err := json.Unmarshal([]byte(txBody), &item.Tx); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
