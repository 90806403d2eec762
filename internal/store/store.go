// Package store persists the dashboard configuration as string-keyed entries.
package store

import (
	"context"
	"fmt"

	"telebridge/internal/config"
	"telebridge/internal/store/sqlstore"
)

// Keys of the four persisted entries.
const (
	KeyToken  = "tg_bot_token"
	KeyLocked = "tg_token_locked"
	KeyTheme  = "theme"
	KeyGroups = "tg_groups"
)

// KV is the read/write contract every backend implements. Get reports
// found=false for absent keys rather than an error.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendSQLite:
		kv, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return kv, nil
	case config.BackendPostgres:
		kv, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return kv, nil
	case config.BackendMongo:
		manager, err := NewManager(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := manager.EnsureBaseIndexes(ctx); err != nil {
			_ = manager.Close(ctx)
			return nil, err
		}
		return NewMongoKV(manager), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
