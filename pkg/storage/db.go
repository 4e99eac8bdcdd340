// Package storage persists enrolled users, their face embeddings and images,
// and the attendance ledger in a single SQLite file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// ErrEmbeddingSpaceMismatch is returned when the database was populated by a
// different extractor than the one currently configured.
var ErrEmbeddingSpaceMismatch = errors.New("embedding space mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	image_path TEXT NOT NULL DEFAULT '',
	embedding  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   INTEGER NOT NULL REFERENCES users(id),
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attendance_user ON attendance(user_id);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps the SQLite handle.
type DB struct {
	Client *sql.DB
	path   string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers, so id assignment cannot race.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logging.Component("storage").Debugf("Opened database: %s", path)
	return &DB{Client: db, path: path}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.Client.PingContext(ctx)
}

// EnsureEmbeddingSpace records the extractor name and dimension on first use
// and fails with ErrEmbeddingSpaceMismatch if a different one was recorded.
func (d *DB) EnsureEmbeddingSpace(ctx context.Context, extractor string, dimension int) error {
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stored := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM settings WHERE key IN ('extractor', 'dimension')`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		stored[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	dim := strconv.Itoa(dimension)
	if len(stored) > 0 {
		if stored["extractor"] != extractor || stored["dimension"] != dim {
			return fmt.Errorf("%w: database holds %s/%s embeddings, configured %s/%s",
				ErrEmbeddingSpaceMismatch, stored["extractor"], stored["dimension"], extractor, dim)
		}
		return nil
	}

	for k, v := range map[string]string{"extractor": extractor, "dimension": dim} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}
