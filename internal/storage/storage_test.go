package storage

import (
	"context"
	"testing"
	"time"

	"watchtower/internal/rules"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestWarningCounterRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before, err := store.WarningCount(ctx, "g1", "u1", "profanity")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if before != 0 {
		t.Fatalf("expected 0, got %d", before)
	}

	if _, err := store.IncrementWarnings(ctx, "g1", "u1", "profanity", 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	after, err := store.WarningCount(ctx, "g1", "u1", "profanity")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if after != before+3 {
		t.Fatalf("expected %d, got %d", before+3, after)
	}

	if err := store.ResetWarnings(ctx, "g1", "u1", "profanity"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	reset, _ := store.WarningCount(ctx, "g1", "u1", "profanity")
	if reset != 0 {
		t.Fatalf("expected 0 after reset, got %d", reset)
	}
}

func TestBlacklistDedupe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddBlacklistDomain(ctx, "Evil.Example", "phishing", "virustotal"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddBlacklistDomain(ctx, "evil.example", "phishing", "phishtank"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	domains, err := store.ListBlacklistDomains(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(domains) != 1 || domains[0] != "evil.example" {
		t.Fatalf("expected single lowercased entry, got %v", domains)
	}

	blocked, err := store.IsDomainBlacklisted(ctx, "EVIL.example")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !blocked {
		t.Fatalf("expected blacklisted")
	}
}

func TestRuleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AddRule(ctx, rules.Rule{
		GuildID:          "g1",
		Trigger:          rules.TriggerProfanity,
		Threshold:        3,
		Action:           rules.ActionMute,
		DurationSeconds:  600,
		DeleteMessage:    true,
		LogChannelID:     "log1",
		ExemptChannelIDs: []string{"c1", "c2"},
		ExemptRoleIDs:    []string{"r1"},
		Escalation:       true,
		Enabled:          true,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	list, err := store.ListRules(ctx, "g1")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one rule, got %d", len(list))
	}
	rule := list[0]
	if rule.ID != id || rule.Trigger != rules.TriggerProfanity || rule.Action != rules.ActionMute {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if len(rule.ExemptChannelIDs) != 2 || rule.ExemptChannelIDs[1] != "c2" {
		t.Fatalf("unexpected exempt channels %v", rule.ExemptChannelIDs)
	}
	if !rule.Escalation || !rule.Enabled || !rule.DeleteMessage {
		t.Fatalf("flags not preserved: %+v", rule)
	}
}

func TestGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	defaults := GuildSettings{RaidEnabled: true, RaidJoinRate: 5, RaidWindowSeconds: 60, RaidResponse: "alert"}
	settings, err := store.GetGuildSettings(ctx, "unknown", defaults)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.GuildID != "unknown" || settings.RaidJoinRate != 5 {
		t.Fatalf("defaults not applied: %+v", settings)
	}

	settings.RaidJoinRate = 8
	settings.GraceAutoKick = true
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.GetGuildSettings(ctx, "unknown", defaults)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.RaidJoinRate != 8 || !got.GraceAutoKick {
		t.Fatalf("stored settings not returned: %+v", got)
	}
}

func TestRaidStateLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.GetRaidState(ctx, "g1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Active {
		t.Fatalf("expected inactive state")
	}

	if err := store.SetRaidActive(ctx, "g1", state.StartedAt); err != nil {
		t.Fatalf("set active: %v", err)
	}
	state, _ = store.GetRaidState(ctx, "g1")
	if !state.Active {
		t.Fatalf("expected active state")
	}

	if err := store.ClearRaidState(ctx, "g1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	state, _ = store.GetRaidState(ctx, "g1")
	if state.Active {
		t.Fatalf("expected cleared state")
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Unix(1700000000, 0)
	row := AuditLog{
		GuildID:   "g1",
		UserID:    "u1",
		Level:     "CRIT",
		Category:  "raid",
		Event:     "raid_detected",
		Details:   "6 joins within window, response kick",
		RaidID:    "raid-1",
		CreatedAt: at,
	}
	if err := store.AddAuditLog(ctx, row); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddAuditLog(ctx, AuditLog{
		GuildID:   "g1",
		UserID:    "u2",
		Level:     "WARN",
		Category:  "rule",
		Event:     "mute",
		Diff:      "+2 link(s)",
		CreatedAt: at.Add(time.Minute),
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	logs, err := store.ListAuditLogs(ctx, "g1", at)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(logs))
	}
	// newest first
	if logs[0].Diff != "+2 link(s)" || logs[0].Category != "rule" {
		t.Fatalf("unexpected first row: %+v", logs[0])
	}
	if logs[1].RaidID != "raid-1" || !logs[1].CreatedAt.Equal(at) {
		t.Fatalf("unexpected second row: %+v", logs[1])
	}
}
