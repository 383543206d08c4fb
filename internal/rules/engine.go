package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"watchtower/internal/metrics"
	"watchtower/internal/utils"

	"go.uber.org/zap"
)

const (
	capsMinLetters   = 10
	defaultCapsRatio = 70
)

// LinkChecker resolves whether a single URL is malicious. Lookup
// failures count as clean, so the engine never blocks on it.
type LinkChecker interface {
	IsMalicious(ctx context.Context, rawURL string) bool
}

// CreateObserver and EditObserver are the two rolling-window variants
// the spam trigger delegates to depending on event kind.
type CreateObserver interface {
	Observe(guildID, userID, messageID, content string, threshold int, now time.Time) (bool, string)
}

type EditObserver interface {
	Observe(guildID, userID, messageID, oldContent, newContent string, threshold int, now time.Time) (bool, string)
}

// WordProvider exposes a guild's profanity configuration.
type WordProvider interface {
	ProfanityWords(ctx context.Context, guildID string) ([]Word, error)
	ProfanityPatterns(ctx context.Context, guildID string) ([]string, error)
}

// SafeLinkFunc is the best-effort acknowledgment fired when a message
// carried links and every one of them came back clean.
type SafeLinkFunc func(ctx context.Context, ev *Event, checked int)

// Match is the outcome of an evaluation pass: the first enabled,
// non-exempt rule whose trigger fired, plus a human-readable reason.
type Match struct {
	Rule   Rule
	Reason string
}

// Engine walks a guild's rules against one content event in rule-list
// order and stops at the first match.
type Engine struct {
	links   LinkChecker
	creates CreateObserver
	edits   EditObserver
	words   WordProvider
	safeAck SafeLinkFunc
	logger  *zap.Logger

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
	broken   map[string]struct{}
}

func NewEngine(links LinkChecker, creates CreateObserver, edits EditObserver, words WordProvider, logger *zap.Logger) *Engine {
	return &Engine{
		links:    links,
		creates:  creates,
		edits:    edits,
		words:    words,
		logger:   logger,
		compiled: make(map[string]*regexp.Regexp),
		broken:   make(map[string]struct{}),
	}
}

// SetSafeLinkAck installs the hook invoked after an all-clean link scan.
func (e *Engine) SetSafeLinkAck(fn SafeLinkFunc) {
	e.safeAck = fn
}

// Evaluate returns the first matching rule for the event, or nil when
// no rule fires. Disabled rules and rules exempting the event's channel
// or any of the author's roles are skipped without evaluating their
// trigger.
func (e *Engine) Evaluate(ctx context.Context, ev *Event, ruleList []Rule) *Match {
	for _, rule := range ruleList {
		if !rule.Enabled {
			continue
		}
		if rule.ChannelExempt(ev.ChannelID) || rule.RoleExempt(ev.RoleIDs) {
			continue
		}
		matched, reason := e.evaluateRule(ctx, ev, rule)
		if matched {
			metrics.Detections.WithLabelValues(string(rule.Trigger)).Inc()
			return &Match{Rule: rule, Reason: reason}
		}
	}
	return nil
}

func (e *Engine) evaluateRule(ctx context.Context, ev *Event, rule Rule) (bool, string) {
	switch rule.Trigger {
	case TriggerSpam:
		return e.checkSpam(ev, rule)
	case TriggerCaps:
		return checkCaps(ev.Content, rule.Threshold)
	case TriggerLinks:
		return e.checkLinks(ctx, ev)
	case TriggerInviteLinks:
		if ContainsInvite(ev.Content) {
			return true, "unauthorized invite link"
		}
		return false, ""
	case TriggerProfanity:
		return e.checkProfanity(ctx, ev)
	case TriggerMentionSpam:
		return checkMentions(ev, rule.Threshold)
	default:
		e.logger.Warn("rule with unknown trigger skipped",
			zap.Int64("rule_id", rule.ID),
			zap.String("trigger", string(rule.Trigger)))
		return false, ""
	}
}

func (e *Engine) checkSpam(ev *Event, rule Rule) (bool, string) {
	if ev.IsEdit() {
		return e.edits.Observe(ev.GuildID, ev.UserID, ev.MessageID, ev.PrevContent, ev.Content, rule.Threshold, ev.At)
	}
	return e.creates.Observe(ev.GuildID, ev.UserID, ev.MessageID, ev.Content, rule.Threshold, ev.At)
}

// ExcessiveCaps reports whether the message trips the uppercase-ratio
// check at the given threshold. The grace-period screen shares this
// with the caps trigger.
func ExcessiveCaps(content string, threshold int) bool {
	ok, _ := checkCaps(content, threshold)
	return ok
}

// checkCaps measures the uppercase share of the message's letters after
// URLs are stripped. Messages with fewer than capsMinLetters letters
// never match, so short shouts like ticker symbols pass through.
func checkCaps(content string, threshold int) (bool, string) {
	if threshold <= 0 {
		threshold = defaultCapsRatio
	}
	stripped := utils.StripURLs(content)
	letters, upper := 0, 0
	for _, r := range stripped {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < capsMinLetters {
		return false, ""
	}
	ratio := upper * 100 / letters
	if ratio >= threshold {
		return true, fmt.Sprintf("excessive caps (%d%% of %d letters)", ratio, letters)
	}
	return false, ""
}

func (e *Engine) checkLinks(ctx context.Context, ev *Event) (bool, string) {
	urls := utils.ExtractURLs(ev.Content)
	if len(urls) == 0 {
		return false, ""
	}
	for _, u := range urls {
		if e.links.IsMalicious(ctx, u) {
			return true, fmt.Sprintf("malicious link: %s", u)
		}
	}
	if e.safeAck != nil {
		e.safeAck(ctx, ev, len(urls))
	}
	return false, ""
}

func (e *Engine) checkProfanity(ctx context.Context, ev *Event) (bool, string) {
	words, err := e.words.ProfanityWords(ctx, ev.GuildID)
	if err != nil {
		e.logger.Error("loading profanity words", zap.String("guild_id", ev.GuildID), zap.Error(err))
	}
	for _, w := range words {
		if wordMatches(ev.Content, w) {
			return true, "prohibited word"
		}
	}
	patterns, err := e.words.ProfanityPatterns(ctx, ev.GuildID)
	if err != nil {
		e.logger.Error("loading profanity patterns", zap.String("guild_id", ev.GuildID), zap.Error(err))
	}
	for _, p := range patterns {
		re := e.pattern(p, ev.GuildID)
		if re == nil {
			continue
		}
		if re.MatchString(ev.Content) {
			return true, "prohibited pattern"
		}
	}
	return false, ""
}

// pattern returns the compiled regexp for p, caching both successes and
// failures so a malformed guild pattern is logged once, not per message.
func (e *Engine) pattern(p, guildID string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.compiled[p]; ok {
		return re
	}
	if _, ok := e.broken[p]; ok {
		return nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		e.broken[p] = struct{}{}
		e.logger.Warn("skipping malformed profanity pattern",
			zap.String("guild_id", guildID),
			zap.String("pattern", p),
			zap.Error(err))
		return nil
	}
	e.compiled[p] = re
	return re
}

func wordMatches(content string, w Word) bool {
	text := w.Text
	haystack := content
	if !w.CaseSensitive {
		text = strings.ToLower(text)
		haystack = strings.ToLower(haystack)
	}
	if !w.WholeWord {
		return strings.Contains(haystack, text)
	}
	for _, field := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if field == text {
			return true
		}
	}
	return false
}

func checkMentions(ev *Event, threshold int) (bool, string) {
	if threshold <= 0 {
		return false, ""
	}
	n := ev.DistinctMentions()
	if n >= threshold {
		return true, fmt.Sprintf("mention spam (%d distinct mentions)", n)
	}
	return false, ""
}
