package ledger

import (
	"context"
	"testing"

	"watchtower/internal/rules"

	"go.uber.org/zap"
)

type memCounter struct {
	counts map[string]int
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int)}
}

func key(guildID, userID, category string) string {
	return guildID + ":" + userID + ":" + category
}

func (m *memCounter) WarningCount(_ context.Context, guildID, userID, category string) (int, error) {
	return m.counts[key(guildID, userID, category)], nil
}

func (m *memCounter) IncrementWarnings(_ context.Context, guildID, userID, category string, delta int) (int, error) {
	k := key(guildID, userID, category)
	m.counts[k] += delta
	if m.counts[k] < 0 {
		m.counts[k] = 0
	}
	return m.counts[k], nil
}

func (m *memCounter) ResetWarnings(_ context.Context, guildID, userID, category string) error {
	m.counts[key(guildID, userID, category)] = 0
	return nil
}

func muteRule(threshold int, escalation bool) rules.Rule {
	return rules.Rule{
		ID:         7,
		GuildID:    "g1",
		Trigger:    rules.TriggerSpam,
		Threshold:  threshold,
		Action:     rules.ActionMute,
		Escalation: escalation,
		Enabled:    true,
	}
}

func TestEscalationDowngradesUntilThreshold(t *testing.T) {
	store := newMemCounter()
	l := New(store, zap.NewNop())
	rule := muteRule(3, true)
	ctx := context.Background()

	for i, wantCount := range []int{1, 2} {
		d, err := l.Record(ctx, "g1", "u1", rule, 1)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if d.Action != rules.ActionWarn || !d.Downgraded {
			t.Fatalf("record %d: got action %s downgraded=%v, want downgraded warn", i, d.Action, d.Downgraded)
		}
		if d.Count != wantCount {
			t.Fatalf("record %d: count = %d, want %d", i, d.Count, wantCount)
		}
	}

	d, err := l.Record(ctx, "g1", "u1", rule, 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != rules.ActionMute || d.Downgraded {
		t.Fatalf("third violation: got %s downgraded=%v, want mute", d.Action, d.Downgraded)
	}
	if n, _ := store.WarningCount(ctx, "g1", "u1", "spam"); n != 0 {
		t.Fatalf("counter after escalation = %d, want 0", n)
	}
}

func TestEscalationDisabledFiresImmediately(t *testing.T) {
	store := newMemCounter()
	l := New(store, zap.NewNop())
	d, err := l.Record(context.Background(), "g1", "u1", muteRule(3, false), 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != rules.ActionMute {
		t.Fatalf("got %s, want mute on first violation without escalation", d.Action)
	}
}

func TestSeverityAdvancesCounterFaster(t *testing.T) {
	store := newMemCounter()
	l := New(store, zap.NewNop())
	rule := muteRule(3, true)
	ctx := context.Background()

	d, err := l.Record(ctx, "g1", "u1", rule, 2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != rules.ActionWarn || d.Count != 2 {
		t.Fatalf("severity-2 first violation: %s count %d, want warn count 2", d.Action, d.Count)
	}

	d, err = l.Record(ctx, "g1", "u1", rule, 2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != rules.ActionMute {
		t.Fatalf("severity-2 second violation: %s, want mute (effective 4 >= 3)", d.Action)
	}
}

func TestWarnAlwaysIncrements(t *testing.T) {
	store := newMemCounter()
	l := New(store, zap.NewNop())
	rule := rules.Rule{GuildID: "g1", Trigger: rules.TriggerCaps, Threshold: 5, Action: rules.ActionWarn, Enabled: true}
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		d, err := l.Record(ctx, "g1", "u2", rule, 1)
		if err != nil {
			t.Fatal(err)
		}
		if d.Action != rules.ActionWarn || d.Count != want {
			t.Fatalf("warn %d: action %s count %d", want, d.Action, d.Count)
		}
	}
}

func TestDeleteDoesNotTouchCounter(t *testing.T) {
	store := newMemCounter()
	l := New(store, zap.NewNop())
	ctx := context.Background()
	if _, err := store.IncrementWarnings(ctx, "g1", "u3", "links", 2); err != nil {
		t.Fatal(err)
	}

	rule := rules.Rule{GuildID: "g1", Trigger: rules.TriggerLinks, Threshold: 5, Action: rules.ActionDelete, Enabled: true}
	d, err := l.Record(ctx, "g1", "u3", rule, 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != rules.ActionDelete {
		t.Fatalf("got %s, want delete", d.Action)
	}
	if n, _ := store.WarningCount(ctx, "g1", "u3", "links"); n != 2 {
		t.Fatalf("delete changed counter to %d, want 2", n)
	}
}
