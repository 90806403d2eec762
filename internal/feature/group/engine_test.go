package group

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"telebridge/internal/domain"
	"telebridge/internal/store"
)

type fakeGateway struct {
	mu          sync.Mutex
	validToken  string
	verifyErr   error
	chats       map[string]domain.Chat
	counts      map[string]int
	countErrs   map[string]error
	countCalls  int
	verifyCalls int
	countHook   func(chatID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		validToken: "good",
		chats:      map[string]domain.Chat{},
		counts:     map[string]int{},
		countErrs:  map[string]error{},
	}
}

func (f *fakeGateway) Verify(_ context.Context, token string) (domain.BotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++

	if f.verifyErr != nil {
		return domain.BotInfo{}, f.verifyErr
	}
	if token != f.validToken {
		return domain.BotInfo{}, domain.NewError(domain.ErrAuth, "Unauthorized", nil)
	}
	return domain.BotInfo{ID: 7, IsBot: true, FirstName: "Bridge", Username: "bridge_bot"}, nil
}

func (f *fakeGateway) ChatDetails(_ context.Context, _ string, chatID string) (domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	chat, ok := f.chats[chatID]
	if !ok {
		return domain.Chat{}, domain.NewError(domain.ErrLookup, "Bad Request: chat not found", nil)
	}
	return chat, nil
}

func (f *fakeGateway) MemberCount(_ context.Context, _ string, chatID string) (int, error) {
	f.mu.Lock()
	f.countCalls++
	hook := f.countHook
	err := f.countErrs[chatID]
	count := f.counts[chatID]
	f.mu.Unlock()

	if hook != nil {
		hook(chatID)
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (f *fakeGateway) addChat(id, title string, members int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[id] = domain.Chat{ID: id, Title: title}
	f.counts[id] = members
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type refreshCounter struct {
	updated, failed int
}

func (r *refreshCounter) ObserveRefresh(updated, failed int) {
	r.updated += updated
	r.failed += failed
}

type engineFixture struct {
	engine  *Engine
	gateway *fakeGateway
	kv      *store.Memory
	hook    *logtest.Hook
	clock   *steppingClock
}

func newFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	clock := &steppingClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	gw := newFakeGateway()
	kv := store.NewMemory()

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	engine := NewEngine(gw, store.NewSettings(kv), logrus.NewEntry(logger), opts...)
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	return &engineFixture{engine: engine, gateway: gw, kv: kv, hook: hook, clock: clock}
}

func (f *engineFixture) connect(t *testing.T) {
	t.Helper()
	if _, err := f.engine.Connect(context.Background(), "good"); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
}

func (f *engineFixture) persistedGroups(t *testing.T) []domain.Group {
	t.Helper()
	snap, err := store.NewSettings(f.kv).Load(context.Background())
	if err != nil {
		t.Fatalf("load persisted settings: %v", err)
	}
	return snap.Groups
}

func ids(groups []domain.Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.ID
	}
	return out
}

func TestAddGroupConcreteScenario(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-100123", "Alpha", 12)
	f.connect(t)

	first, err := f.engine.AddGroup(context.Background(), "-100123")
	if err != nil {
		t.Fatalf("AddGroup returned error: %v", err)
	}
	if first.ID != "-100123" {
		t.Fatalf("expected id -100123, got %s", first.ID)
	}
	if first.Description != domain.DefaultDescription || first.Category != domain.DefaultCategory {
		t.Fatalf("expected default description and category, got %+v", first)
	}
	if first.Image != domain.AvatarURL("-100123") || first.MemberCount != 12 {
		t.Fatalf("unexpected group %+v", first)
	}

	if got := ids(f.engine.OrderedView("")); !reflect.DeepEqual(got, []string{"-100123"}) {
		t.Fatalf("expected [-100123], got %v", got)
	}

	second, err := f.engine.AddGroup(context.Background(), "-100123")
	if err != nil {
		t.Fatalf("AddGroup returned error: %v", err)
	}
	if len(f.engine.Groups()) != 1 {
		t.Fatalf("expected a single group after re-add, got %d", len(f.engine.Groups()))
	}
	if second.InteractedAt() <= first.InteractedAt() {
		t.Fatalf("expected newer lastInteraction, got %d then %d", first.InteractedAt(), second.InteractedAt())
	}
	if got := f.persistedGroups(t); len(got) != 1 || got[0].InteractedAt() != second.InteractedAt() {
		t.Fatalf("expected persisted collection to match, got %+v", got)
	}
}

func TestAddGroupDistinctIDsOrderedMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	chatIDs := []string{"-1001", "-1002", "-1003", "-1004"}
	for i, id := range chatIDs {
		f.gateway.addChat(id, "Group "+id, i)
	}
	f.connect(t)

	for _, id := range chatIDs {
		if _, err := f.engine.AddGroup(context.Background(), id); err != nil {
			t.Fatalf("AddGroup(%s) returned error: %v", id, err)
		}
	}

	want := []string{"-1004", "-1003", "-1002", "-1001"}
	if got := ids(f.engine.Groups()); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stored order %v, got %v", want, got)
	}
	if got := ids(f.engine.OrderedView("")); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected view order %v, got %v", want, got)
	}

	if _, err := f.engine.AddGroup(context.Background(), "-1002"); err != nil {
		t.Fatalf("re-add returned error: %v", err)
	}
	want = []string{"-1002", "-1004", "-1003", "-1001"}
	if got := ids(f.engine.Groups()); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected re-added group at front %v, got %v", want, got)
	}
	if len(f.engine.Groups()) != len(chatIDs) {
		t.Fatalf("expected %d groups, got %d", len(chatIDs), len(f.engine.Groups()))
	}
}

func TestAddGroupRequiresConnection(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-100123", "Alpha", 12)

	_, err := f.engine.AddGroup(context.Background(), "-100123")
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
}

func TestAddGroupAbortsWithoutMutationOnLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-100123", "Alpha", 12)
	f.gateway.countErrs["-100123"] = domain.NewError(domain.ErrLookup, "Could not get member count.", nil)
	f.connect(t)
	writes := f.kv.Writes()

	_, err := f.engine.AddGroup(context.Background(), "-100123")
	if !errors.Is(err, domain.ErrLookup) || err.Error() != "Could not get member count." {
		t.Fatalf("expected lookup error, got %v", err)
	}

	_, err = f.engine.AddGroup(context.Background(), "-999")
	if !errors.Is(err, domain.ErrLookup) {
		t.Fatalf("expected lookup error for unknown chat, got %v", err)
	}

	if len(f.engine.Groups()) != 0 {
		t.Fatalf("expected no groups after failures, got %d", len(f.engine.Groups()))
	}
	if f.kv.Writes() != writes {
		t.Fatalf("expected no store writes after failures")
	}
}

func TestConnectBadTokenLeavesBotInfoUnset(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Connect(context.Background(), "badtoken")
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err.Error() != "Unauthorized" {
		t.Fatalf("expected remote description, got %q", err.Error())
	}

	if _, ok := f.engine.BotInfo(); ok {
		t.Fatalf("expected bot info to be unset")
	}
	if f.engine.Status().State != domain.StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", f.engine.Status().State)
	}
	if _, found, _ := f.kv.Get(context.Background(), store.KeyToken); found {
		t.Fatalf("expected bad token not to be persisted")
	}

	entry := f.hook.LastEntry()
	if entry == nil || entry.Data["event"] != "bot_verify_failed" {
		t.Fatalf("expected verify failure log, got %+v", entry)
	}
}

func TestConnectFailureClearsPreviousIdentity(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	if _, err := f.engine.Connect(context.Background(), "other"); err == nil {
		t.Fatalf("expected auth error")
	}
	if _, ok := f.engine.BotInfo(); ok {
		t.Fatalf("expected cached identity to be cleared")
	}
}

func TestConnectEmptyTokenSkipsRemoteCall(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Connect(context.Background(), "   ")
	if !errors.Is(err, domain.ErrAuth) || err.Error() != "Invalid Token" {
		t.Fatalf("expected Invalid Token auth error, got %v", err)
	}
	if f.gateway.verifyCalls != 0 {
		t.Fatalf("expected no remote verification, got %d", f.gateway.verifyCalls)
	}
}

func TestConnectPersistsTokenAndRefreshes(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ReplaceGroups(context.Background(), []domain.Group{
		{ID: "-1", Name: "One", MemberCount: 1},
		{ID: "-2", Name: "Two", MemberCount: 2},
	}); err != nil {
		t.Fatalf("ReplaceGroups returned error: %v", err)
	}
	f.gateway.counts["-1"] = 10
	f.gateway.counts["-2"] = 20

	info, err := f.engine.Connect(context.Background(), "good")
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if info.Username != "bridge_bot" {
		t.Fatalf("unexpected bot info %+v", info)
	}

	token, found, _ := f.kv.Get(context.Background(), store.KeyToken)
	if !found || token != "good" {
		t.Fatalf("expected token to be persisted, got %q", token)
	}

	status := f.engine.Status()
	if status.State != domain.StateConnected || status.Bot == nil || status.TotalMembers != 30 {
		t.Fatalf("unexpected status %+v", status)
	}
	if f.gateway.countCalls != 2 {
		t.Fatalf("expected refresh of both groups, got %d member count calls", f.gateway.countCalls)
	}
}

func TestRefreshAllKeepsFailedGroupsUnchanged(t *testing.T) {
	counter := &refreshCounter{}
	f := newFixture(t, WithRefreshObserver(counter))

	ts := int64(1700000000000)
	initial := []domain.Group{
		{ID: "-1", Name: "One", MemberCount: 1, Description: "a", Category: domain.DefaultCategory, Image: domain.AvatarURL("-1"), LastInteraction: &ts},
		{ID: "-2", Name: "Two", MemberCount: 2, Description: "b", Category: domain.DefaultCategory, Image: domain.AvatarURL("-2")},
		{ID: "-3", Name: "Three", MemberCount: 3, Description: "c", Category: domain.DefaultCategory, Image: domain.AvatarURL("-3")},
		{ID: "-4", Name: "Four", MemberCount: 4, Description: "d", Category: domain.DefaultCategory, Image: domain.AvatarURL("-4")},
	}
	if err := f.engine.ReplaceGroups(context.Background(), initial); err != nil {
		t.Fatalf("ReplaceGroups returned error: %v", err)
	}

	f.gateway.counts["-1"] = 100
	f.gateway.counts["-3"] = 300
	f.gateway.countErrs["-2"] = errors.New("timeout")
	f.gateway.countErrs["-4"] = domain.NewError(domain.ErrLookup, "Forbidden", nil)
	writes := f.kv.Writes()

	report, err := f.engine.RefreshAll(context.Background(), "good")
	if err != nil {
		t.Fatalf("RefreshAll returned error: %v", err)
	}
	if report != (RefreshReport{Total: 4, Updated: 2, Failed: 2}) {
		t.Fatalf("unexpected report %+v", report)
	}

	got := f.engine.Groups()
	if len(got) != 4 {
		t.Fatalf("expected 4 groups, got %d", len(got))
	}
	if !reflect.DeepEqual(got[1], initial[1]) || !reflect.DeepEqual(got[3], initial[3]) {
		t.Fatalf("expected failed groups unchanged, got %+v and %+v", got[1], got[3])
	}
	if got[0].MemberCount != 100 || got[2].MemberCount != 300 {
		t.Fatalf("expected refreshed counts, got %d and %d", got[0].MemberCount, got[2].MemberCount)
	}
	if got[0].InteractedAt() != ts {
		t.Fatalf("expected lastInteraction untouched by refresh")
	}
	if f.kv.Writes() != writes+1 {
		t.Fatalf("expected a single persist after refresh, got %d writes", f.kv.Writes()-writes)
	}
	if counter.updated != 2 || counter.failed != 2 {
		t.Fatalf("expected observer to see 2/2, got %+v", counter)
	}

	warnings := 0
	for _, entry := range f.hook.AllEntries() {
		if entry.Data["event"] == "group_refresh_failed" {
			if id := entry.Data["chat_id"]; id != "-2" && id != "-4" {
				t.Fatalf("expected failed chat id on refresh log, got %v", entry.Data)
			}
			warnings++
		}
	}
	if warnings != 2 {
		t.Fatalf("expected 2 refresh failure logs, got %d", warnings)
	}
}

func TestRefreshAllKeepsGroupAddedMeanwhile(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-1", "One", 1)
	f.gateway.addChat("-2", "Two", 2)
	f.connect(t)
	if _, err := f.engine.AddGroup(context.Background(), "-1"); err != nil {
		t.Fatalf("AddGroup returned error: %v", err)
	}

	f.gateway.counts["-1"] = 11
	added := make(chan struct{})
	var once sync.Once
	f.gateway.countHook = func(chatID string) {
		if chatID != "-1" {
			return
		}
		once.Do(func() {
			go func() {
				defer close(added)
				if _, err := f.engine.AddGroup(context.Background(), "-2"); err != nil {
					t.Errorf("concurrent AddGroup returned error: %v", err)
				}
			}()
			<-added
		})
	}

	if _, err := f.engine.RefreshAll(context.Background(), "good"); err != nil {
		t.Fatalf("RefreshAll returned error: %v", err)
	}

	got := f.persistedGroups(t)
	if len(got) != 2 {
		t.Fatalf("expected concurrently added group to survive, got %v", ids(got))
	}
	one, _ := f.engine.Group("-1")
	if one.MemberCount != 11 {
		t.Fatalf("expected refreshed count 11, got %d", one.MemberCount)
	}
}

func TestRefreshAllLooksUpGroupsConcurrently(t *testing.T) {
	f := newFixture(t)
	ids := []string{"-1", "-2", "-3"}
	for i, id := range ids {
		f.gateway.addChat(id, "Group "+id, i+1)
	}
	f.connect(t)
	for _, id := range ids {
		if _, err := f.engine.AddGroup(context.Background(), id); err != nil {
			t.Fatalf("AddGroup returned error: %v", err)
		}
	}

	var inFlight sync.WaitGroup
	inFlight.Add(len(ids))
	allInFlight := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(allInFlight)
	}()

	var stalled atomic.Bool
	f.gateway.countHook = func(string) {
		inFlight.Done()
		select {
		case <-allInFlight:
		case <-time.After(2 * time.Second):
			stalled.Store(true)
		}
	}

	report, err := f.engine.RefreshAll(context.Background(), "good")
	if err != nil {
		t.Fatalf("RefreshAll returned error: %v", err)
	}
	if stalled.Load() {
		t.Fatalf("expected all %d member count lookups in flight at once", len(ids))
	}
	if report.Updated != len(ids) {
		t.Fatalf("expected %d groups updated, got %+v", len(ids), report)
	}
}

func TestRefreshAllKeepsNewerCountFromReAdd(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-1", "One", 1)
	f.connect(t)
	if _, err := f.engine.AddGroup(context.Background(), "-1"); err != nil {
		t.Fatalf("AddGroup returned error: %v", err)
	}

	f.gateway.counts["-1"] = 5
	var readding atomic.Bool
	f.gateway.countHook = func(chatID string) {
		if chatID != "-1" || !readding.CompareAndSwap(false, true) {
			return
		}
		f.gateway.mu.Lock()
		f.gateway.counts["-1"] = 9
		f.gateway.mu.Unlock()
		if _, err := f.engine.AddGroup(context.Background(), "-1"); err != nil {
			t.Errorf("re-adding group returned error: %v", err)
		}
	}

	report, err := f.engine.RefreshAll(context.Background(), "good")
	if err != nil {
		t.Fatalf("RefreshAll returned error: %v", err)
	}
	if report.Skipped != 1 || report.Updated != 0 {
		t.Fatalf("expected stale lookup to be skipped, got %+v", report)
	}

	one, _ := f.engine.Group("-1")
	if one.MemberCount != 9 {
		t.Fatalf("expected re-added count 9 to win, got %d", one.MemberCount)
	}
	if got := f.persistedGroups(t); len(got) != 1 || got[0].MemberCount != 9 {
		t.Fatalf("expected persisted count 9, got %+v", got)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RefreshAll(context.Background(), ""); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background()); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}
}

func TestTouchMovesGroupToFrontOfView(t *testing.T) {
	f := newFixture(t)
	f.gateway.addChat("-1", "One", 1)
	f.gateway.addChat("-2", "Two", 2)
	f.connect(t)
	for _, id := range []string{"-1", "-2"} {
		if _, err := f.engine.AddGroup(context.Background(), id); err != nil {
			t.Fatalf("AddGroup returned error: %v", err)
		}
	}

	found, err := f.engine.Touch(context.Background(), "-1")
	if err != nil || !found {
		t.Fatalf("expected touch to find group, got found=%v err=%v", found, err)
	}

	if got := ids(f.engine.OrderedView("")); !reflect.DeepEqual(got, []string{"-1", "-2"}) {
		t.Fatalf("expected touched group first, got %v", got)
	}
	if got := ids(f.engine.Groups()); !reflect.DeepEqual(got, []string{"-2", "-1"}) {
		t.Fatalf("expected stored order unchanged, got %v", got)
	}
}

func TestTouchUnknownIDStillPersists(t *testing.T) {
	f := newFixture(t)
	writes := f.kv.Writes()

	found, err := f.engine.Touch(context.Background(), "-404")
	if err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if found {
		t.Fatalf("expected unknown id to be reported as not found")
	}
	if f.kv.Writes() != writes+1 {
		t.Fatalf("expected collection to be persisted")
	}
}

func TestRemoveFiltersAndPersists(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ReplaceGroups(context.Background(), []domain.Group{{ID: "-1"}, {ID: "-2"}}); err != nil {
		t.Fatalf("ReplaceGroups returned error: %v", err)
	}

	removed, err := f.engine.Remove(context.Background(), "-1")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	if got := ids(f.persistedGroups(t)); !reflect.DeepEqual(got, []string{"-2"}) {
		t.Fatalf("expected [-2] persisted, got %v", got)
	}

	removed, err = f.engine.Remove(context.Background(), "-1")
	if err != nil || removed {
		t.Fatalf("expected second removal to be a no-op, got removed=%v err=%v", removed, err)
	}
}

func TestReplaceGroupsDropsDuplicateIDs(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ReplaceGroups(context.Background(), []domain.Group{
		{ID: "-1", Name: "First"},
		{ID: "-1", Name: "Second"},
	})
	if err != nil {
		t.Fatalf("ReplaceGroups returned error: %v", err)
	}

	got := f.engine.Groups()
	if len(got) != 1 || got[0].Name != "First" {
		t.Fatalf("expected first occurrence to win, got %+v", got)
	}
}

func TestLoadRestoresPersistedState(t *testing.T) {
	kv := store.NewMemory()
	settings := store.NewSettings(kv)
	ctx := context.Background()
	_ = settings.SaveToken(ctx, "good")
	_ = settings.SaveLocked(ctx, true)
	_ = settings.SaveTheme(ctx, domain.ThemeDark)
	_ = settings.SaveGroups(ctx, []domain.Group{{ID: "-1", MemberCount: 5}})

	logger, _ := logtest.NewNullLogger()
	engine := NewEngine(newFakeGateway(), settings, logrus.NewEntry(logger))
	if err := engine.Load(ctx); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	status := engine.Status()
	if !status.HasToken || !status.Locked || status.Groups != 1 || status.TotalMembers != 5 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.State != domain.StateDisconnected {
		t.Fatalf("expected disconnected until verified, got %s", status.State)
	}
	if engine.Theme() != domain.ThemeDark {
		t.Fatalf("expected dark theme, got %s", engine.Theme())
	}
}

func TestDisconnectClearsTokenAndIdentity(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	if err := f.engine.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if f.engine.Token() != "" {
		t.Fatalf("expected token to be cleared")
	}
	if _, ok := f.engine.BotInfo(); ok {
		t.Fatalf("expected identity to be cleared")
	}
	if _, found, _ := f.kv.Get(context.Background(), store.KeyToken); found {
		t.Fatalf("expected token entry to be removed")
	}
}

func TestSettersPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.SetLocked(ctx, true); err != nil {
		t.Fatalf("SetLocked returned error: %v", err)
	}
	if err := f.engine.SetTheme(ctx, domain.ThemeLight); err != nil {
		t.Fatalf("SetTheme returned error: %v", err)
	}
	if err := f.engine.SetTheme(ctx, domain.ThemeSystem); err == nil {
		t.Fatalf("expected system theme to be rejected")
	}

	snap, err := store.NewSettings(f.kv).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !snap.Locked || snap.Theme != domain.ThemeLight {
		t.Fatalf("unexpected persisted snapshot %+v", snap)
	}
	if !f.engine.Locked() {
		t.Fatalf("expected engine to report locked")
	}
}

func TestEngineValidatesReceiverAndContext(t *testing.T) {
	var engine *Engine
	if err := engine.Load(context.Background()); err == nil {
		t.Fatalf("expected error for nil engine")
	}

	f := newFixture(t)
	if _, err := f.engine.Touch(nil, "-1"); err == nil {
		t.Fatalf("expected error for nil context")
	}
}
