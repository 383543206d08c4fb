package antiraid

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"watchtower/internal/metrics"
	"watchtower/internal/modules/audit"
	"watchtower/internal/storage"

	"go.uber.org/zap"
)

const defaultJoinWindow = 60 * time.Second

var botLikeName = regexp.MustCompile(`\d{4,}$`)

// Join is one observed member join, normalized away from the platform
// event shape.
type Join struct {
	GuildID   string
	UserID    string
	Username  string
	AvatarSet bool
	CreatedAt time.Time
	RoleIDs   []string
	At        time.Time
}

// AccountAge is the age of the joining account at join time.
func (j Join) AccountAge() time.Duration {
	return j.At.Sub(j.CreatedAt)
}

// SettingsProvider resolves per-guild anti-raid configuration.
type SettingsProvider interface {
	GetGuildSettings(ctx context.Context, guildID string) (storage.GuildSettings, error)
	BypassRoles(ctx context.Context, guildID string) ([]string, error)
}

// RaidHandler receives the joins that crossed the volume gate.
type RaidHandler interface {
	OnRaidDetected(ctx context.Context, guildID string, joins []Join, settings storage.GuildSettings)
}

// Detector keeps one rolling join window per guild and fires the raid
// handler when the window crosses the configured join-rate threshold.
type Detector struct {
	settings SettingsProvider
	handler  RaidHandler
	audit    *audit.Logger
	logger   *zap.Logger

	mu      sync.Mutex
	windows map[string][]Join
}

func NewDetector(settings SettingsProvider, handler RaidHandler, auditLogger *audit.Logger, logger *zap.Logger) *Detector {
	return &Detector{
		settings: settings,
		handler:  handler,
		audit:    auditLogger,
		logger:   logger,
		windows:  make(map[string][]Join),
	}
}

// OnJoin records one member join and runs raid detection for the guild.
// Members holding a bypass role are logged and excluded from the
// window. Every join produces an audit row whether or not a raid is
// in progress.
func (d *Detector) OnJoin(ctx context.Context, join Join) {
	settings, err := d.settings.GetGuildSettings(ctx, join.GuildID)
	if err != nil {
		d.logger.Error("loading guild settings", zap.String("guild_id", join.GuildID), zap.Error(err))
		return
	}
	if !settings.RaidEnabled {
		return
	}

	if d.bypassed(ctx, join) {
		metrics.JoinsObserved.WithLabelValues("bypassed").Inc()
		d.audit.Record(ctx, audit.Entry{
			GuildID:  join.GuildID,
			UserID:   join.UserID,
			Level:    audit.LevelInfo,
			Category: audit.CategoryJoin,
			Event:    "member_join",
			Details:  "join with bypass role, excluded from raid tracking",
			At:       join.At,
		})
		return
	}

	suspicious := d.isSuspicious(join, settings)
	assessment := "legitimate"
	if suspicious {
		assessment = "suspicious"
	}
	metrics.JoinsObserved.WithLabelValues(assessment).Inc()
	d.audit.Record(ctx, audit.Entry{
		GuildID:  join.GuildID,
		UserID:   join.UserID,
		Level:    audit.LevelInfo,
		Category: audit.CategoryJoin,
		Event:    "member_join",
		Details:  fmt.Sprintf("%s join, account age %s", assessment, join.AccountAge().Round(time.Hour)),
		At:       join.At,
	})

	window := d.append(join, settings)
	if len(window) < settings.RaidJoinRate {
		return
	}

	young := 0
	for _, j := range window {
		if j.AccountAge() < time.Duration(settings.RaidMinAccountAgeDays)*24*time.Hour {
			young++
		}
	}
	d.logger.Warn("join rate threshold crossed",
		zap.String("guild_id", join.GuildID),
		zap.Int("joins", len(window)),
		zap.Int("threshold", settings.RaidJoinRate),
		zap.Float64("young_ratio", float64(young)/float64(len(window))))

	metrics.RaidsDetected.Inc()
	d.handler.OnRaidDetected(ctx, join.GuildID, window, settings)
}

// isSuspicious holds when at least two independent signals do.
func (d *Detector) isSuspicious(join Join, settings storage.GuildSettings) bool {
	signals := 0
	if join.AccountAge() < time.Duration(settings.RaidMinAccountAgeDays)*24*time.Hour {
		signals++
	}
	if !join.AvatarSet {
		signals++
	}
	if botLikeName.MatchString(join.Username) {
		signals++
	}
	return signals >= 2
}

func (d *Detector) bypassed(ctx context.Context, join Join) bool {
	if len(join.RoleIDs) == 0 {
		return false
	}
	bypass, err := d.settings.BypassRoles(ctx, join.GuildID)
	if err != nil {
		d.logger.Error("loading bypass roles", zap.String("guild_id", join.GuildID), zap.Error(err))
		return false
	}
	set := make(map[string]struct{}, len(bypass))
	for _, id := range bypass {
		set[id] = struct{}{}
	}
	for _, id := range join.RoleIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func (d *Detector) append(join Join, settings storage.GuildSettings) []Join {
	window := defaultJoinWindow
	if settings.RaidWindowSeconds > 0 {
		window = time.Duration(settings.RaidWindowSeconds) * time.Second
	}
	cutoff := join.At.Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.windows[join.GuildID][:0]
	for _, j := range d.windows[join.GuildID] {
		if j.At.After(cutoff) {
			kept = append(kept, j)
		}
	}
	kept = append(kept, join)
	d.windows[join.GuildID] = kept

	out := make([]Join, len(kept))
	copy(out, kept)
	return out
}

// Sweep drops guild windows whose newest join is older than the stale
// horizon. Called from the periodic hygiene ticker.
func (d *Detector) Sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for guildID, window := range d.windows {
		if len(window) == 0 || now.Sub(window[len(window)-1].At) > time.Hour {
			delete(d.windows, guildID)
		}
	}
}
