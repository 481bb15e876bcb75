// Package storage opens the SQLite database that backs execution history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := validateSQLiteFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mutable_snapshot (
  identity    TEXT PRIMARY KEY,
  step        TEXT NOT NULL,
  input       TEXT NOT NULL,
  input_kind  TEXT NOT NULL,
  input_hash  TEXT NOT NULL,
  deps_hash   TEXT NOT NULL,
  build_id    TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS immutable_workspace (
  identity    TEXT PRIMARY KEY,
  step        TEXT NOT NULL,
  created_at  TEXT NOT NULL,
  last_used   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS transform_log (
  id          TEXT PRIMARY KEY,
  build_id    TEXT NOT NULL,
  identity    TEXT NOT NULL,
  store       TEXT NOT NULL,
  step        TEXT NOT NULL,
  input       TEXT NOT NULL,
  status      TEXT NOT NULL,
  cached      INTEGER NOT NULL DEFAULT 0,
  error       TEXT,
  started_at  TEXT NOT NULL,
  finished_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS immutable_workspace_last_used_idx ON immutable_workspace(last_used);`,
		`CREATE INDEX IF NOT EXISTS transform_log_build_idx ON transform_log(build_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
