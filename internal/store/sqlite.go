package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source        TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	collected_at  INTEGER NOT NULL,
	published_at  INTEGER,
	title         TEXT,
	text          TEXT,
	url           TEXT,
	author        TEXT,
	media_urls    BLOB,
	entities      BLOB,
	location_name TEXT,
	lat           REAL,
	lon           REAL,
	raw           TEXT,
	cluster_id    TEXT,
	UNIQUE(source, source_id)
);
CREATE INDEX IF NOT EXISTS idx_items_cluster_id ON items(cluster_id);
CREATE INDEX IF NOT EXISTS idx_items_unassigned ON items(cluster_id) WHERE cluster_id IS NULL;

CREATE TABLE IF NOT EXISTS clusters (
	id                            TEXT PRIMARY KEY,
	title                         TEXT,
	summary                       TEXT,
	tags                          BLOB,
	representative_lat            REAL,
	representative_lon            REAL,
	representative_location_name TEXT,
	item_count                    INTEGER NOT NULL DEFAULT 0,
	first_seen_at                 INTEGER NOT NULL,
	last_seen_at                  INTEGER NOT NULL,
	created_at                    INTEGER NOT NULL,
	updated_at                    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clusters_last_seen ON clusters(last_seen_at);
`

// DB wraps a SQLite connection shared by the Item Store and Cluster
// Store: a single connection (SQLite has one writer regardless), WAL
// journal mode, and foreign keys on.
type DB struct {
	conn *sql.DB
}

// Open creates (or attaches to) a SQLite database at path and ensures the
// schema exists.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Items returns an ItemStore backed by this connection.
func (db *DB) Items() *ItemStore { return &ItemStore{db: db.conn} }

// Clusters returns a ClusterStore backed by this connection.
func (db *DB) Clusters(now func() time.Time) *ClusterStore {
	if now == nil {
		now = time.Now
	}
	return &ClusterStore{db: db.conn, now: now}
}

// Tx runs fn inside a single transaction. Each record's persistence and
// each cluster assignment runs in its own transaction, so one failure
// never poisons its neighbours.
func (db *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
