package grace

import (
	"context"
	"fmt"
	"time"

	"watchtower/internal/metrics"
	"watchtower/internal/modules/audit"
	"watchtower/internal/rules"
	"watchtower/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	watchCapacity = 4096
	// hard bound on any watch regardless of guild configuration
	watchTTL = 24 * time.Hour

	mentionLimit  = 5
	capsThreshold = 70
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type SettingsProvider interface {
	GetGuildSettings(ctx context.Context, guildID string) (storage.GuildSettings, error)
}

type Gateway interface {
	DeleteMessage(channelID, messageID string) error
	DirectMessage(userID string, embed *discordgo.MessageEmbed) error
	Kick(guildID, userID, reason string) error
}

type watch struct {
	joinedAt time.Time
	until    time.Time
	autoKick bool
	delInv   bool
}

// Monitor screens messages from recently joined members, separately
// from the rule pipeline. Watches expire on their own; eviction under
// memory pressure just ends a watch early.
type Monitor struct {
	settings SettingsProvider
	gw       Gateway
	audit    *audit.Logger
	clock    Clock
	logger   *zap.Logger
	watches  *expirable.LRU[string, watch]
}

func NewMonitor(settings SettingsProvider, gw Gateway, auditLogger *audit.Logger, logger *zap.Logger) *Monitor {
	return &Monitor{
		settings: settings,
		gw:       gw,
		audit:    auditLogger,
		clock:    realClock{},
		logger:   logger,
		watches:  expirable.NewLRU[string, watch](watchCapacity, nil, watchTTL),
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Monitor) SetClock(c Clock) { m.clock = c }

func watchKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// Register starts watching a new member, but only when the guild has a
// grace period configured.
func (m *Monitor) Register(ctx context.Context, guildID, userID string) {
	settings, err := m.settings.GetGuildSettings(ctx, guildID)
	if err != nil {
		m.logger.Error("loading guild settings", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if settings.GracePeriodMinutes <= 0 {
		return
	}
	now := m.clock.Now()
	m.watches.Add(watchKey(guildID, userID), watch{
		joinedAt: now,
		until:    now.Add(time.Duration(settings.GracePeriodMinutes) * time.Minute),
		autoKick: settings.GraceAutoKick,
		delInv:   settings.GraceDeleteInvites,
	})
}

// Screen checks one message from a possibly watched member. It returns
// true when the member was kicked and the event needs no further
// handling. Violations found here bypass the warning ledger entirely.
func (m *Monitor) Screen(ctx context.Context, ev *rules.Event) bool {
	key := watchKey(ev.GuildID, ev.UserID)
	w, ok := m.watches.Get(key)
	if !ok {
		return false
	}
	now := m.clock.Now()
	if now.After(w.until) {
		m.watches.Remove(key)
		return false
	}

	// caps is a flag-only finding; it never arms the auto-kick
	var findings, flags []string
	if rules.ContainsInvite(ev.Content) {
		findings = append(findings, "invite link")
		if w.delInv {
			if err := m.gw.DeleteMessage(ev.ChannelID, ev.MessageID); err != nil {
				m.logger.Warn("deleting invite from new member",
					zap.String("channel_id", ev.ChannelID),
					zap.String("message_id", ev.MessageID),
					zap.Error(err))
			}
		}
	}
	if ev.DistinctMentions() > mentionLimit {
		findings = append(findings, fmt.Sprintf("%d distinct mentions", ev.DistinctMentions()))
	}
	if rules.ExcessiveCaps(ev.Content, capsThreshold) {
		flags = append(flags, "excessive caps")
	}
	if len(findings) == 0 && len(flags) == 0 {
		return false
	}

	detail := fmt.Sprintf("grace-period violation %s after join: %v", now.Sub(w.joinedAt).Round(time.Second), append(findings, flags...))
	m.audit.Record(ctx, audit.Entry{
		GuildID:  ev.GuildID,
		UserID:   ev.UserID,
		Level:    audit.LevelWarn,
		Category: audit.CategoryGrace,
		Event:    "grace_violation",
		Details:  detail,
		At:       now,
	})

	if !w.autoKick || len(findings) == 0 {
		return false
	}

	m.notifyKick(ev.UserID, findings)
	if err := m.gw.Kick(ev.GuildID, ev.UserID, "grace-period violation"); err != nil {
		m.logger.Error("grace-period kick failed",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
		return false
	}
	metrics.GraceKicks.Inc()
	m.audit.Record(ctx, audit.Entry{
		GuildID:  ev.GuildID,
		UserID:   ev.UserID,
		Level:    audit.LevelCrit,
		Category: audit.CategoryGrace,
		Event:    "grace_kick",
		Details:  detail,
		At:       now,
	})
	m.watches.Remove(key)
	return true
}

func (m *Monitor) notifyKick(userID string, findings []string) {
	embed := &discordgo.MessageEmbed{
		Title:       "Removed during new-member period",
		Description: fmt.Sprintf("You were removed for: %v. You may rejoin once you are ready to follow the rules.", findings),
		Color:       0xEF4444,
	}
	if err := m.gw.DirectMessage(userID, embed); err != nil {
		m.logger.Debug("grace kick dm failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Watching reports whether the member is currently under watch.
func (m *Monitor) Watching(guildID, userID string) bool {
	_, ok := m.watches.Peek(watchKey(guildID, userID))
	return ok
}
