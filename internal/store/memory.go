package store

import (
	"context"
	"sync"
)

// Memory is an in-process KV used for tests and ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	m.writes++
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	m.writes++
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }

// Writes returns how many Set/Delete calls the store has served.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
