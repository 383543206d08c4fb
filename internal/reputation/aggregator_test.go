package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeBlacklist struct {
	mu      sync.Mutex
	domains map[string]string
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{domains: make(map[string]string)}
}

func (f *fakeBlacklist) IsDomainBlacklisted(ctx context.Context, domain string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.domains[domain]
	return ok, nil
}

func (f *fakeBlacklist) AddBlacklistDomain(ctx context.Context, domain, reason, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[domain] = source
	return nil
}

type fakeProvider struct {
	name    string
	verdict Verdict
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Check(ctx context.Context, normalizedURL string) (Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.verdict, f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestAggregator(store BlacklistStore, providers ...Provider) *Aggregator {
	return NewAggregator(DefaultTables(), store, providers, zap.NewNop(), WithTimeout(time.Second), WithCache(16, time.Minute))
}

func TestTrustedDomainSkipsProviders(t *testing.T) {
	provider := &fakeProvider{name: "p1", verdict: Verdict{Malicious: true}}
	agg := newTestAggregator(newFakeBlacklist(), provider)

	for _, url := range []string{"https://github.com/octocat", "https://gist.github.com/x"} {
		if agg.IsMalicious(context.Background(), url) {
			t.Fatalf("trusted url %q flagged", url)
		}
	}
	if provider.callCount() != 0 {
		t.Fatalf("expected zero provider calls, got %d", provider.callCount())
	}
}

func TestHeuristicMatchWithoutProviders(t *testing.T) {
	failing := &fakeProvider{name: "p1", err: errors.New("unreachable")}
	clean := &fakeProvider{name: "p2"}
	agg := newTestAggregator(newFakeBlacklist(), failing, clean)

	if !agg.IsMalicious(context.Background(), "https://free-nitro-claim.example/gift") {
		t.Fatalf("expected heuristic match")
	}
	if failing.callCount() != 0 || clean.callCount() != 0 {
		t.Fatalf("heuristic match must skip external calls")
	}
}

func TestBlacklistSubdomainMatch(t *testing.T) {
	store := newFakeBlacklist()
	_ = store.AddBlacklistDomain(context.Background(), "scam.example", "test", "seed")
	provider := &fakeProvider{name: "p1"}
	agg := newTestAggregator(store, provider)

	if !agg.IsMalicious(context.Background(), "https://login.scam.example/verify") {
		t.Fatalf("expected blacklist subdomain match")
	}
	if provider.callCount() != 0 {
		t.Fatalf("blacklisted domain must skip providers")
	}
}

func TestProviderConsensusAndWriteback(t *testing.T) {
	store := newFakeBlacklist()
	erroring := &fakeProvider{name: "down", err: errors.New("timeout")}
	clean := &fakeProvider{name: "clean"}
	flagging := &fakeProvider{name: "flagger", verdict: Verdict{Malicious: true, Detail: "bad"}}
	agg := newTestAggregator(store, erroring, clean, flagging)

	if !agg.IsMalicious(context.Background(), "https://unknown-site.example/path") {
		t.Fatalf("expected provider OR to flag")
	}

	store.mu.Lock()
	source, ok := store.domains["unknown-site.example"]
	store.mu.Unlock()
	if !ok || source != "flagger" {
		t.Fatalf("expected writeback tagged flagger, got %q ok=%v", source, ok)
	}
}

func TestAllProvidersFailingIsClean(t *testing.T) {
	agg := newTestAggregator(newFakeBlacklist(),
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", err: errors.New("down")},
		&fakeProvider{name: "c", err: errors.New("down")},
	)

	if agg.IsMalicious(context.Background(), "https://unknown-site.example/path") {
		t.Fatalf("provider failures must count as clean votes")
	}
}

func TestVerdictCache(t *testing.T) {
	provider := &fakeProvider{name: "p1"}
	agg := newTestAggregator(newFakeBlacklist(), provider)

	url := "https://unknown-site.example/path"
	agg.IsMalicious(context.Background(), url)
	agg.IsMalicious(context.Background(), url)

	if provider.callCount() != 1 {
		t.Fatalf("expected one provider consultation, got %d", provider.callCount())
	}
}

func TestParseTablesFixture(t *testing.T) {
	fixture := []byte(`
version: test-1
trusted:
  - Safe.Example
families:
  - name: test-family
    patterns:
      - "evil-[a-z]+"
`)
	tables, err := ParseTables(fixture)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tables.Version != "test-1" {
		t.Fatalf("unexpected version %q", tables.Version)
	}
	if !tables.Trusted("cdn.safe.example") {
		t.Fatalf("expected trusted subdomain")
	}
	if family, ok := tables.MatchHeuristic("https://evil-stuff.example/"); !ok || family != "test-family" {
		t.Fatalf("expected family match, got %q ok=%v", family, ok)
	}
}

func TestParseTablesRejectsBadPattern(t *testing.T) {
	fixture := []byte(`
families:
  - name: broken
    patterns:
      - "evil-["
`)
	if _, err := ParseTables(fixture); err == nil {
		t.Fatalf("expected compile error")
	}
}
