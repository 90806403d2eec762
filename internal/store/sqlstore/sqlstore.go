// Package sqlstore keeps the settings entries in a single SQL table. The same
// code serves SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// KV is a settings table behind database/sql.
type KV struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newKV(db *sql.DB, d dialect) *KV {
	return &KV{db: db, dialect: d, now: time.Now}
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := k.ready(ctx); err != nil {
		return "", false, err
	}

	var value string
	err := k.db.QueryRowContext(ctx, k.dialect.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: read %s: %w", k.dialect, key, err)
	}
	return value, true, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	if err := k.ready(ctx); err != nil {
		return err
	}

	const upsert = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	stamp := k.now().UTC().Format(time.RFC3339Nano)
	if _, err := k.db.ExecContext(ctx, k.dialect.rebind(upsert), key, value, stamp); err != nil {
		return fmt.Errorf("%s: write %s: %w", k.dialect, key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.ready(ctx); err != nil {
		return err
	}

	if _, err := k.db.ExecContext(ctx, k.dialect.rebind("DELETE FROM settings WHERE key = ?"), key); err != nil {
		return fmt.Errorf("%s: delete %s: %w", k.dialect, key, err)
	}
	return nil
}

func (k *KV) Ping(ctx context.Context) error {
	if err := k.ready(ctx); err != nil {
		return err
	}
	if err := k.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: ping: %w", k.dialect, err)
	}
	return nil
}

func (k *KV) Close(context.Context) error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

func (k *KV) ready(ctx context.Context) error {
	if k == nil || k.db == nil {
		return errors.New("sql store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
