package store

import (
	"context"
	"path/filepath"
	"testing"

	"telebridge/internal/config"
)

func TestOpenMemoryBackend(t *testing.T) {
	kv, err := Open(context.Background(), config.Config{StoreBackend: config.BackendMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := kv.(*Memory); !ok {
		t.Fatalf("expected memory store, got %T", kv)
	}
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := config.Config{
		StoreBackend: config.BackendSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "telebridge.db"),
	}

	kv, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close(context.Background()) })

	settings := NewSettings(kv)
	if err := settings.SaveLocked(context.Background(), true); err != nil {
		t.Fatalf("save lock: %v", err)
	}
	snap, err := settings.Load(context.Background())
	if err != nil || !snap.Locked {
		t.Fatalf("expected locked snapshot, got %+v err=%v", snap, err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{StoreBackend: "redis"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
