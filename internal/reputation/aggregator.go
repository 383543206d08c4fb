package reputation

import (
	"context"
	"strings"
	"time"

	"watchtower/internal/metrics"
	"watchtower/internal/utils"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Verdict is a single provider's answer for one URL.
type Verdict struct {
	Malicious bool
	Detail    string
}

// Provider is one external reputation source. Check is best-effort: a
// provider with no credential returns a clean verdict and no error.
type Provider interface {
	Name() string
	Check(ctx context.Context, normalizedURL string) (Verdict, error)
}

// BlacklistStore is the persisted deny-list the aggregator consults and
// appends to.
type BlacklistStore interface {
	IsDomainBlacklisted(ctx context.Context, domain string) (bool, error)
	AddBlacklistDomain(ctx context.Context, domain, reason, source string) error
}

type Aggregator struct {
	tables    *Tables
	store     BlacklistStore
	providers []Provider
	timeout   time.Duration
	cache     *expirable.LRU[string, bool]
	logger    *zap.Logger
}

type Option func(*Aggregator)

func WithTimeout(timeout time.Duration) Option {
	return func(a *Aggregator) { a.timeout = timeout }
}

func WithCache(size int, ttl time.Duration) Option {
	return func(a *Aggregator) { a.cache = expirable.NewLRU[string, bool](size, nil, ttl) }
}

func NewAggregator(tables *Tables, store BlacklistStore, providers []Provider, logger *zap.Logger, opts ...Option) *Aggregator {
	agg := &Aggregator{
		tables:    tables,
		store:     store,
		providers: providers,
		timeout:   4 * time.Second,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(agg)
	}
	if agg.cache == nil {
		agg.cache = expirable.NewLRU[string, bool](2048, nil, 5*time.Minute)
	}
	return agg
}

// IsMalicious resolves a URL against the trusted set, the persisted
// blacklist, the heuristic families and finally the external providers,
// in that order. It never fails: anything unresolvable is not malicious.
func (a *Aggregator) IsMalicious(ctx context.Context, raw string) bool {
	normalized, domain, err := utils.NormalizeURL(raw)
	if err != nil || domain == "" {
		a.logger.Debug("unparseable url skipped", zap.String("url", raw))
		return false
	}

	if a.tables.Trusted(domain) {
		return false
	}

	if a.domainBlacklisted(ctx, domain) {
		return true
	}

	if family, ok := a.tables.MatchHeuristic(normalized); ok {
		metrics.HeuristicHits.WithLabelValues(family).Inc()
		a.logger.Info("heuristic match", zap.String("domain", domain), zap.String("family", family))
		return true
	}

	if cached, ok := a.cache.Get(normalized); ok {
		return cached
	}

	malicious := a.consultProviders(ctx, normalized, domain)
	a.cache.Add(normalized, malicious)
	return malicious
}

// domainBlacklisted walks the domain and its parent domains against the
// persisted deny-list. Lookup failures count as not blacklisted.
func (a *Aggregator) domainBlacklisted(ctx context.Context, domain string) bool {
	candidate := domain
	for {
		blocked, err := a.store.IsDomainBlacklisted(ctx, candidate)
		if err != nil {
			a.logger.Warn("blacklist lookup failed", zap.String("domain", candidate), zap.Error(err))
			return false
		}
		if blocked {
			return true
		}
		dot := strings.Index(candidate, ".")
		if dot < 0 {
			return false
		}
		candidate = candidate[dot+1:]
		if !strings.Contains(candidate, ".") {
			return false
		}
	}
}

type providerOutcome struct {
	verdict Verdict
	err     error
}

// consultProviders fans the URL out to every provider concurrently, each
// under its own timeout, and ORs the verdicts. A provider error is a
// clean vote, never a failure. The first provider reporting malicious
// has the domain appended to the blacklist under its name.
func (a *Aggregator) consultProviders(ctx context.Context, normalized, domain string) bool {
	if len(a.providers) == 0 {
		return false
	}

	outcomes := make([]providerOutcome, len(a.providers))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, provider := range a.providers {
		i, provider := i, provider
		group.Go(func() error {
			checkCtx, cancel := context.WithTimeout(groupCtx, a.timeout)
			defer cancel()
			verdict, err := provider.Check(checkCtx, normalized)
			outcomes[i] = providerOutcome{verdict: verdict, err: err}
			return nil
		})
	}
	_ = group.Wait()

	malicious := false
	for i, outcome := range outcomes {
		name := a.providers[i].Name()
		switch {
		case outcome.err != nil:
			metrics.ProviderChecks.WithLabelValues(name, "error").Inc()
			a.logger.Warn("provider check failed", zap.String("provider", name), zap.String("url", normalized), zap.Error(outcome.err))
		case outcome.verdict.Malicious:
			metrics.ProviderChecks.WithLabelValues(name, "malicious").Inc()
			if !malicious {
				reason := outcome.verdict.Detail
				if reason == "" {
					reason = "flagged by " + name
				}
				if err := a.store.AddBlacklistDomain(ctx, domain, reason, name); err != nil {
					a.logger.Warn("blacklist append failed", zap.String("domain", domain), zap.Error(err))
				}
			}
			malicious = true
		default:
			metrics.ProviderChecks.WithLabelValues(name, "clean").Inc()
		}
	}
	return malicious
}
