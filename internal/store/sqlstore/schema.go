package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT ''
	)`,
}

// migrate applies schemaStatements once per schema version. Statements are
// idempotent so a partially applied migration can be retried.
func migrate(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("%s: create schema_version: %w", d, err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("%s: read schema version: %w", d, err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w\nstatement: %s", d, err, stmt)
		}
	}

	record := d.rebind("INSERT INTO schema_version (version) VALUES (?) ON CONFLICT (version) DO NOTHING")
	if _, err := db.ExecContext(ctx, record, schemaVersion); err != nil {
		return fmt.Errorf("%s: record schema version: %w", d, err)
	}

	return nil
}
