package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"telebridge/internal/domain"
)

// Snapshot is the typed view of the four persisted entries.
type Snapshot struct {
	Token  string
	Locked bool
	Theme  domain.Theme
	Groups []domain.Group
}

// Settings gives typed access to the persisted entries on top of a KV.
type Settings struct {
	kv KV
}

// NewSettings wraps kv.
func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv}
}

// Load reads all entries, applying empty/false/system defaults for absent keys.
func (s *Settings) Load(ctx context.Context) (Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Theme: domain.ThemeSystem, Groups: []domain.Group{}}

	token, _, err := s.kv.Get(ctx, KeyToken)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read token: %w", err)
	}
	snap.Token = token

	locked, _, err := s.kv.Get(ctx, KeyLocked)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read lock flag: %w", err)
	}
	snap.Locked = locked == "true"

	theme, found, err := s.kv.Get(ctx, KeyTheme)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read theme: %w", err)
	}
	if found {
		snap.Theme, _ = domain.ParseTheme(theme)
	}

	rawGroups, found, err := s.kv.Get(ctx, KeyGroups)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read groups: %w", err)
	}
	if found && rawGroups != "" {
		if err := json.Unmarshal([]byte(rawGroups), &snap.Groups); err != nil {
			return Snapshot{}, fmt.Errorf("decode groups: %w", err)
		}
		if snap.Groups == nil {
			snap.Groups = []domain.Group{}
		}
	}

	return snap, nil
}

// SaveToken persists the bot token; an empty token removes the entry.
func (s *Settings) SaveToken(ctx context.Context, token string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if token == "" {
		if err := s.kv.Delete(ctx, KeyToken); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	}

	if err := s.kv.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// SaveLocked persists the lock flag as "true"/"false".
func (s *Settings) SaveLocked(ctx context.Context, locked bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if err := s.kv.Set(ctx, KeyLocked, strconv.FormatBool(locked)); err != nil {
		return fmt.Errorf("write lock flag: %w", err)
	}
	return nil
}

// SaveTheme persists a light or dark preference.
func (s *Settings) SaveTheme(ctx context.Context, theme domain.Theme) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if _, ok := domain.ParseTheme(string(theme)); !ok {
		return fmt.Errorf("invalid theme %q", theme)
	}

	if err := s.kv.Set(ctx, KeyTheme, string(theme)); err != nil {
		return fmt.Errorf("write theme: %w", err)
	}
	return nil
}

// SaveGroups persists the full group collection as a JSON array.
func (s *Settings) SaveGroups(ctx context.Context, groups []domain.Group) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if groups == nil {
		groups = []domain.Group{}
	}

	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}

	if err := s.kv.Set(ctx, KeyGroups, string(raw)); err != nil {
		return fmt.Errorf("write groups: %w", err)
	}
	return nil
}

// Ping checks backend connectivity.
func (s *Settings) Ping(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.kv.Ping(ctx)
}

func (s *Settings) ready(ctx context.Context) error {
	if s == nil || s.kv == nil {
		return errors.New("settings store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
