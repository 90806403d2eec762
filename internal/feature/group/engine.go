// Package group is the synchronization engine between the persisted group
// collection and the Telegram Bot API.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
	"telebridge/internal/logging"
	"telebridge/internal/store"
)

// Gateway is the part of the Bot API client the engine calls.
type Gateway interface {
	Verify(ctx context.Context, token string) (domain.BotInfo, error)
	ChatDetails(ctx context.Context, token, chatID string) (domain.Chat, error)
	MemberCount(ctx context.Context, token, chatID string) (int, error)
}

// Store persists the engine state.
type Store interface {
	Load(ctx context.Context) (store.Snapshot, error)
	SaveToken(ctx context.Context, token string) error
	SaveLocked(ctx context.Context, locked bool) error
	SaveTheme(ctx context.Context, theme domain.Theme) error
	SaveGroups(ctx context.Context, groups []domain.Group) error
}

// RefreshObserver is notified after every refresh batch.
type RefreshObserver interface {
	ObserveRefresh(updated, failed int)
}

// RefreshReport summarizes a RefreshAll batch.
type RefreshReport struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	// Skipped counts lookups dropped because the group was re-added with a
	// newer count while they were in flight.
	Skipped int `json:"skipped"`
}

// Status is a read-only summary of the engine.
type Status struct {
	State        domain.ConnectionState `json:"state"`
	Bot          *domain.BotInfo        `json:"bot,omitempty"`
	HasToken     bool                   `json:"has_token"`
	Locked       bool                   `json:"locked"`
	Groups       int                    `json:"groups"`
	TotalMembers int                    `json:"total_members"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source for lastInteraction.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRefreshObserver attaches a refresh observer, usually the metrics recorder.
func WithRefreshObserver(o RefreshObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine holds the bot session and group collection. Every mutation and its
// store write happen under mu; remote calls never hold it.
type Engine struct {
	gateway  Gateway
	store    Store
	logger   *logrus.Entry
	now      func() time.Time
	observer RefreshObserver

	mu      sync.RWMutex
	state   domain.ConnectionState
	token   string
	botInfo *domain.BotInfo
	locked  bool
	theme   domain.Theme
	groups  []domain.Group
}

// NewEngine builds a disconnected engine with an empty collection. Call Load
// to populate it from the store.
func NewEngine(gateway Gateway, st Store, logger *logrus.Entry, opts ...Option) *Engine {
	e := &Engine{
		gateway: gateway,
		store:   st,
		logger:  logging.OrDefault(logger),
		now:     time.Now,
		state:   domain.StateDisconnected,
		theme:   domain.ThemeSystem,
		groups:  []domain.Group{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load replaces in-memory state with the persisted entries. The engine stays
// disconnected until Connect verifies the stored token.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.token = snap.Token
	e.locked = snap.Locked
	e.theme = snap.Theme
	e.groups = dedupe(snap.Groups)
	e.botInfo = nil
	e.state = domain.StateDisconnected

	e.logger.WithFields(logging.Fields{
		"event":     "settings_loaded",
		"groups":    len(e.groups),
		"has_token": e.token != "",
		"locked":    e.locked,
	}).Info("loaded persisted settings")

	return nil
}

// Connect verifies token. On success the token is persisted, the bot identity
// cached and every group refreshed with the new token. On failure the engine
// is left disconnected without a cached identity.
func (e *Engine) Connect(ctx context.Context, token string) (domain.BotInfo, error) {
	if err := e.ready(ctx); err != nil {
		return domain.BotInfo{}, err
	}

	token = strings.TrimSpace(token)

	e.mu.Lock()
	e.state = domain.StateVerifying
	e.mu.Unlock()

	var (
		info domain.BotInfo
		err  error
	)
	if token == "" {
		err = domain.NewError(domain.ErrAuth, "Invalid Token", nil)
	} else {
		info, err = e.gateway.Verify(ctx, token)
	}

	if err != nil {
		e.mu.Lock()
		e.state = domain.StateDisconnected
		e.botInfo = nil
		e.mu.Unlock()

		e.logger.WithError(err).WithField("event", "bot_verify_failed").Warn("bot token verification failed")
		return domain.BotInfo{}, err
	}

	e.mu.Lock()
	e.state = domain.StateConnected
	e.token = token
	e.botInfo = &info
	saveErr := e.store.SaveToken(ctx, token)
	e.mu.Unlock()

	if saveErr != nil {
		return info, fmt.Errorf("persist token: %w", saveErr)
	}

	e.logger.WithFields(logging.Fields{
		"event":        "bot_connected",
		"bot_id":       info.ID,
		"bot_username": info.Username,
	}).Info("bot connected")

	if _, err := e.RefreshAll(ctx, token); err != nil {
		return info, err
	}

	return info, nil
}

// Disconnect forgets the token and cached identity.
func (e *Engine) Disconnect(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.token = ""
	e.botInfo = nil
	e.state = domain.StateDisconnected

	if err := e.store.SaveToken(ctx, ""); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}

	e.logger.WithField("event", "bot_disconnected").Info("bot disconnected")
	return nil
}

// SetToken stores token without verifying it and drops any cached identity.
// Callers follow up with Connect.
func (e *Engine) SetToken(ctx context.Context, token string) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.token = token
	e.botInfo = nil
	e.state = domain.StateDisconnected

	if err := e.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// SetLocked persists the token lock flag. The flag only gates token edits in
// the surfaces; the token itself is stored in clear text either way.
func (e *Engine) SetLocked(ctx context.Context, locked bool) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.locked = locked
	if err := e.store.SaveLocked(ctx, locked); err != nil {
		return fmt.Errorf("persist lock flag: %w", err)
	}
	return nil
}

// Locked reports the token lock flag.
func (e *Engine) Locked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.locked
}

// Theme returns the stored theme, ThemeSystem when none was chosen.
func (e *Engine) Theme() domain.Theme {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.theme
}

// SetTheme persists a light or dark preference.
func (e *Engine) SetTheme(ctx context.Context, theme domain.Theme) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	if _, ok := domain.ParseTheme(string(theme)); !ok {
		return fmt.Errorf("invalid theme %q", theme)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.theme = theme
	if err := e.store.SaveTheme(ctx, theme); err != nil {
		return fmt.Errorf("persist theme: %w", err)
	}
	return nil
}

// AddGroup fetches chat details and member count, then upserts the group at
// the front of the collection. Nothing changes unless both lookups succeed.
func (e *Engine) AddGroup(ctx context.Context, chatID string) (domain.Group, error) {
	if err := e.ready(ctx); err != nil {
		return domain.Group{}, err
	}

	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.Group{}, domain.NewError(domain.ErrLookup, "Chat ID is required", nil)
	}

	token, connected := e.connectedToken()
	if !connected {
		return domain.Group{}, domain.ErrNotConnected
	}

	chat, err := e.gateway.ChatDetails(ctx, token, chatID)
	if err != nil {
		return domain.Group{}, err
	}

	count, err := e.gateway.MemberCount(ctx, token, chatID)
	if err != nil {
		return domain.Group{}, err
	}

	if chat.ID == "" {
		chat.ID = chatID
	}
	group := domain.NewGroup(chat, count, e.now())

	e.mu.Lock()
	defer e.mu.Unlock()

	e.groups = upsertFront(e.groups, group)
	if err := e.store.SaveGroups(ctx, e.groups); err != nil {
		return group, fmt.Errorf("persist groups: %w", err)
	}

	logging.WithContext(e.logger, logging.Context{ChatID: group.ID, Event: "group_added"}).WithFields(logging.Fields{
		"title":        group.Name,
		"member_count": group.MemberCount,
	}).Info("group added")

	return group, nil
}

type refreshResult struct {
	id    string
	count int
	err   error
}

// RefreshAll requests a new member count for every group concurrently and
// waits for all of them. Failed groups keep their previous record. Results
// are merged by id into the collection as it is at join time, so groups added
// meanwhile are kept. The collection is persisted even when some lookups fail.
func (e *Engine) RefreshAll(ctx context.Context, token string) (RefreshReport, error) {
	if err := e.ready(ctx); err != nil {
		return RefreshReport{}, err
	}
	if strings.TrimSpace(token) == "" {
		return RefreshReport{}, domain.ErrNotConnected
	}

	e.mu.RLock()
	ids := lo.Map(e.groups, func(g domain.Group, _ int) string { return g.ID })
	before := lo.SliceToMap(e.groups, func(g domain.Group) (string, domain.Group) { return g.ID, g })
	e.mu.RUnlock()

	results := make([]refreshResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			count, err := e.gateway.MemberCount(ctx, token, id)
			results[i] = refreshResult{id: id, count: count, err: err}
		}(i, id)
	}
	wg.Wait()

	report := RefreshReport{Total: len(ids)}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, res := range results {
		if res.err != nil {
			report.Failed++
			logging.WithContext(e.logger, logging.Context{ChatID: res.id, Event: "group_refresh_failed"}).
				WithError(res.err).Warn("member count refresh failed")
			continue
		}

		current, idx, ok := lo.FindIndexOf(e.groups, func(g domain.Group) bool { return g.ID == res.id })
		if !ok {
			continue
		}
		if readdedSince(before[res.id], current) {
			report.Skipped++
			continue
		}
		e.groups[idx].MemberCount = res.count
		report.Updated++
	}

	if e.observer != nil {
		e.observer.ObserveRefresh(report.Updated, report.Failed)
	}

	if err := e.store.SaveGroups(ctx, e.groups); err != nil {
		return report, fmt.Errorf("persist groups: %w", err)
	}

	e.logger.WithFields(logging.Fields{
		"event":   "groups_refreshed",
		"total":   report.Total,
		"updated": report.Updated,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	}).Info("member counts refreshed")

	return report, nil
}

// readdedSince reports whether the record was re-added with a fresh count
// after the refresh snapshot was taken.
func readdedSince(snapshot, current domain.Group) bool {
	return snapshot.InteractedAt() != current.InteractedAt() && snapshot.MemberCount != current.MemberCount
}

// Refresh runs RefreshAll with the verified token.
func (e *Engine) Refresh(ctx context.Context) (RefreshReport, error) {
	token, connected := e.connectedToken()
	if !connected {
		return RefreshReport{}, domain.ErrNotConnected
	}
	return e.RefreshAll(ctx, token)
}

// Touch marks a group as opened now. An unknown id changes nothing but the
// collection is still persisted; found reports whether the id was tracked.
func (e *Engine) Touch(ctx context.Context, groupID string) (bool, error) {
	if err := e.ready(ctx); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	for i := range e.groups {
		if e.groups[i].ID == groupID {
			e.groups[i].LastInteraction = domain.Millis(e.now())
			found = true
			break
		}
	}

	if err := e.store.SaveGroups(ctx, e.groups); err != nil {
		return found, fmt.Errorf("persist groups: %w", err)
	}
	return found, nil
}

// Remove drops a group from the collection.
func (e *Engine) Remove(ctx context.Context, groupID string) (bool, error) {
	if err := e.ready(ctx); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := lo.Reject(e.groups, func(g domain.Group, _ int) bool { return g.ID == groupID })
	removed := len(kept) != len(e.groups)
	if !removed {
		return false, nil
	}

	e.groups = kept
	if err := e.store.SaveGroups(ctx, e.groups); err != nil {
		return true, fmt.Errorf("persist groups: %w", err)
	}

	logging.WithContext(e.logger, logging.Context{ChatID: groupID, Event: "group_removed"}).Info("group removed")
	return true, nil
}

// ReplaceGroups overwrites the whole collection. Duplicate ids keep their
// first occurrence.
func (e *Engine) ReplaceGroups(ctx context.Context, groups []domain.Group) error {
	if err := e.ready(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.groups = dedupe(groups)
	if err := e.store.SaveGroups(ctx, e.groups); err != nil {
		return fmt.Errorf("persist groups: %w", err)
	}
	return nil
}

// OrderedView returns the groups most recently interacted with first,
// filtered by query. It never mutates the collection.
func (e *Engine) OrderedView(query string) []domain.Group {
	return Order(e.Groups(), query)
}

// Groups returns a copy of the collection in stored order.
func (e *Engine) Groups() []domain.Group {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneGroups(e.groups)
}

// Group looks up a tracked group by id.
func (e *Engine) Group(id string) (domain.Group, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return lo.Find(e.groups, func(g domain.Group) bool { return g.ID == id })
}

// Token returns the stored token, verified or not.
func (e *Engine) Token() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

// BotInfo returns the cached identity of the connected bot.
func (e *Engine) BotInfo() (domain.BotInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.botInfo == nil {
		return domain.BotInfo{}, false
	}
	return *e.botInfo, true
}

// State returns the connection state.
func (e *Engine) State() domain.ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status summarizes connection and collection state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		State:        e.state,
		HasToken:     e.token != "",
		Locked:       e.locked,
		Groups:       len(e.groups),
		TotalMembers: totalMembers(e.groups),
	}
	if e.botInfo != nil {
		info := *e.botInfo
		status.Bot = &info
	}
	return status
}

// Document snapshots {token, groups, isLocked}.
func (e *Engine) Document() domain.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return domain.Document{
		Token:    e.token,
		Groups:   cloneGroups(e.groups),
		IsLocked: e.locked,
	}
}

func (e *Engine) connectedToken() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token, e.state == domain.StateConnected && e.token != ""
}

func (e *Engine) ready(ctx context.Context) error {
	if e == nil || e.gateway == nil || e.store == nil {
		return errors.New("group engine is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
