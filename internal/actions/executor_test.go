package actions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"watchtower/internal/config"
	"watchtower/internal/ledger"
	"watchtower/internal/modules/audit"
	"watchtower/internal/rules"
	"watchtower/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeTimer struct{ fn func() }

func (t *fakeTimer) Stop() bool { return true }

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn}
	f.timers = append(f.timers, t)
	f.delays = append(f.delays, d)
	return t
}

func (f *fakeClock) fire() {
	f.mu.Lock()
	pending := append([]*fakeTimer{}, f.timers...)
	f.timers = nil
	f.mu.Unlock()
	for _, t := range pending {
		t.fn()
	}
}

type fakeGateway struct {
	deleted   []string
	embeds    map[string]int
	dms       []string
	timeouts  []time.Time
	kicked    []string
	banned    []string
	unbanned  []string
	perms     bool
	deleteErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{embeds: make(map[string]int), perms: true}
}

func (g *fakeGateway) DeleteMessage(channelID, messageID string) error {
	g.deleted = append(g.deleted, channelID+"/"+messageID)
	return g.deleteErr
}

func (g *fakeGateway) SendEmbed(channelID string, _ *discordgo.MessageEmbed) error {
	g.embeds[channelID]++
	return nil
}

func (g *fakeGateway) DirectMessage(userID string, _ *discordgo.MessageEmbed) error {
	g.dms = append(g.dms, userID)
	return nil
}

func (g *fakeGateway) Timeout(_, userID string, until time.Time) error {
	g.timeouts = append(g.timeouts, until)
	return nil
}

func (g *fakeGateway) Kick(_, userID, _ string) error {
	g.kicked = append(g.kicked, userID)
	return nil
}

func (g *fakeGateway) Ban(_, userID, _ string, _ int) error {
	g.banned = append(g.banned, userID)
	return nil
}

func (g *fakeGateway) Unban(_, userID string) error {
	g.unbanned = append(g.unbanned, userID)
	return nil
}

func (g *fakeGateway) HasGuildPermission(string, int64) bool { return g.perms }

func newTestExecutor(t *testing.T, gw *fakeGateway) (*Executor, *fakeClock, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)

	notify := config.NotifyConfig{ChannelNoticeEnabled: true, DMNoticeEnabled: true}
	e := NewExecutor(gw, store, audit.NewLogger(store, zap.NewNop()), notify, zap.NewNop())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	e.SetClock(clock)
	return e, clock, store
}

func testEvent() *rules.Event {
	return &rules.Event{
		GuildID:   "g1",
		UserID:    "u1",
		ChannelID: "c1",
		MessageID: "m1",
		Content:   "spammy content",
		Kind:      rules.KindCreate,
		At:        time.Unix(1700000000, 0),
	}
}

func TestWarnSendsNoticeAndRecords(t *testing.T) {
	gw := newFakeGateway()
	e, _, store := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 3, GuildID: "g1", Trigger: rules.TriggerSpam, Threshold: 3, Action: rules.ActionMute, DeleteMessage: true, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionWarn, Count: 1, Threshold: 3, Downgraded: true}

	if err := e.Apply(context.Background(), testEvent(), rule, "message burst", decision, 1); err != nil {
		t.Fatal(err)
	}
	if gw.embeds["c1"] != 1 {
		t.Fatalf("channel notices = %d, want 1", gw.embeds["c1"])
	}
	if len(gw.dms) != 1 || gw.dms[0] != "u1" {
		t.Fatalf("dms = %v", gw.dms)
	}
	if len(gw.deleted) != 1 {
		t.Fatalf("deletes = %v", gw.deleted)
	}

	vs, err := store.ListViolations(context.Background(), "g1", "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 || vs[0].Action != "warn" || vs[0].Count != 1 || vs[0].Threshold != 3 {
		t.Fatalf("violations = %+v", vs)
	}
}

func TestMuteCapsDuration(t *testing.T) {
	gw := newFakeGateway()
	e, clock, _ := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 1, GuildID: "g1", Trigger: rules.TriggerSpam, Threshold: 1, Action: rules.ActionMute, DurationSeconds: 90 * 24 * 3600, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionMute, Count: 1, Threshold: 1}

	if err := e.Apply(context.Background(), testEvent(), rule, "spam", decision, 1); err != nil {
		t.Fatal(err)
	}
	if len(gw.timeouts) != 1 {
		t.Fatalf("timeouts = %v", gw.timeouts)
	}
	want := clock.Now().Add(maxTimeout)
	if !gw.timeouts[0].Equal(want) {
		t.Fatalf("timeout until %v, want capped %v", gw.timeouts[0], want)
	}
}

func TestMuteDefaultDuration(t *testing.T) {
	gw := newFakeGateway()
	e, clock, _ := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 1, GuildID: "g1", Trigger: rules.TriggerSpam, Threshold: 1, Action: rules.ActionMute, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionMute, Count: 1, Threshold: 1}

	if err := e.Apply(context.Background(), testEvent(), rule, "spam", decision, 1); err != nil {
		t.Fatal(err)
	}
	want := clock.Now().Add(defaultMuteDuration)
	if !gw.timeouts[0].Equal(want) {
		t.Fatalf("timeout until %v, want default %v", gw.timeouts[0], want)
	}
}

func TestMuteAbortsWithoutPermission(t *testing.T) {
	gw := newFakeGateway()
	gw.perms = false
	e, _, store := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 1, GuildID: "g1", Trigger: rules.TriggerSpam, Threshold: 1, Action: rules.ActionMute, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionMute, Count: 1, Threshold: 1}

	if err := e.Apply(context.Background(), testEvent(), rule, "spam", decision, 1); err == nil {
		t.Fatal("expected error without timeout permission")
	}
	if len(gw.timeouts) != 0 {
		t.Fatal("timeout attempted without permission")
	}
	vs, _ := store.ListViolations(context.Background(), "g1", "u1", 10)
	if len(vs) != 0 {
		t.Fatal("violation recorded for aborted action")
	}
}

func TestTimedBanSchedulesUnban(t *testing.T) {
	gw := newFakeGateway()
	e, clock, _ := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 1, GuildID: "g1", Trigger: rules.TriggerLinks, Threshold: 1, Action: rules.ActionBan, DurationSeconds: 3600, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionBan, Count: 1, Threshold: 1}

	if err := e.Apply(context.Background(), testEvent(), rule, "malicious link", decision, 1); err != nil {
		t.Fatal(err)
	}
	if len(gw.banned) != 1 {
		t.Fatalf("banned = %v", gw.banned)
	}
	if len(clock.delays) != 1 || clock.delays[0] != time.Hour {
		t.Fatalf("scheduled delays = %v, want [1h]", clock.delays)
	}
	clock.fire()
	if len(gw.unbanned) != 1 || gw.unbanned[0] != "u1" {
		t.Fatalf("unbanned = %v", gw.unbanned)
	}
}

func TestDeleteFailureIsLoggedNotFatal(t *testing.T) {
	gw := newFakeGateway()
	gw.deleteErr = context.DeadlineExceeded
	e, _, store := newTestExecutor(t, gw)
	rule := rules.Rule{ID: 2, GuildID: "g1", Trigger: rules.TriggerCaps, Threshold: 5, Action: rules.ActionDelete, Enabled: true}
	decision := ledger.Decision{Action: rules.ActionDelete, Count: 0, Threshold: 5}

	if err := e.Apply(context.Background(), testEvent(), rule, "excessive caps", decision, 1); err != nil {
		t.Fatalf("delete failure surfaced as action error: %v", err)
	}
	vs, _ := store.ListViolations(context.Background(), "g1", "u1", 10)
	if len(vs) != 1 {
		t.Fatal("violation not recorded after failed deletion")
	}
}

func TestEditViolationCarriesDiffSummary(t *testing.T) {
	gw := newFakeGateway()
	e, _, store := newTestExecutor(t, gw)
	ev := testEvent()
	ev.Kind = rules.KindEdit
	ev.PrevContent = "hello"
	ev.Content = "hello https://sketchy.example free nitro"
	rule := rules.Rule{ID: 4, GuildID: "g1", Trigger: rules.TriggerSpam, Threshold: 3, Action: rules.ActionWarn, LogChannelID: "log1", Enabled: true}
	decision := ledger.Decision{Action: rules.ActionWarn, Count: 1, Threshold: 3}

	if err := e.Apply(context.Background(), ev, rule, "repeated edit content", decision, 1); err != nil {
		t.Fatal(err)
	}
	vs, _ := store.ListViolations(context.Background(), "g1", "u1", 10)
	if len(vs) != 1 {
		t.Fatal("violation not recorded")
	}
	if !strings.Contains(vs[0].DiffSummary, "link") {
		t.Fatalf("diff summary %q missing link delta", vs[0].DiffSummary)
	}
	if gw.embeds["log1"] != 1 {
		t.Fatal("audit embed not posted to log channel")
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	// "héllo": the accented rune spans bytes 1-2, so a 2-byte cut
	// must back off to the boundary before it.
	got := truncate("héllo", 2)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
	if got != "h…" {
		t.Fatalf("truncate = %q, want %q", got, "h…")
	}
	if short := truncate("hey", 10); short != "hey" {
		t.Fatalf("short string changed: %q", short)
	}
}
