package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"  // PostgreSQL driver registration
	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

// OpenSQLite opens (creating if needed) the database file at path with WAL
// journaling, a 5s busy timeout and a single connection.
func OpenSQLite(ctx context.Context, path string) (*KV, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db, dialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newKV(db, dialectSQLite), nil
}

// OpenPostgres connects to dsn, verifies it with a ping and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*KV, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := migrate(ctx, db, dialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newKV(db, dialectPostgres), nil
}
