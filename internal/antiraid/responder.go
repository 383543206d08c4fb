package antiraid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"watchtower/internal/metrics"
	"watchtower/internal/modules/audit"
	"watchtower/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	alertJoinerLimit = 10
	batchMuteLength  = 10 * time.Minute
	maxMuteLength    = 28 * 24 * time.Hour
)

// muteLength picks the batch timeout duration, falling back to the
// default when the guild has no raid duration configured. The platform
// rejects timeouts past 28 days.
func muteLength(settings storage.GuildSettings) time.Duration {
	d := time.Duration(settings.RaidDurationMinutes) * time.Minute
	if d <= 0 {
		return batchMuteLength
	}
	if d > maxMuteLength {
		return maxMuteLength
	}
	return d
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(d time.Duration)
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (t realTimer) Stop() bool { return t.t.Stop() }

// Gateway is the slice of platform operations the responder performs.
type Gateway interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, deleteDays int) error
	Unban(guildID, userID string) error
	Timeout(guildID, userID string, until time.Time) error
	SetVerificationLevel(guildID string, level discordgo.VerificationLevel) (discordgo.VerificationLevel, error)
}

// RaidStore persists raid records.
type RaidStore interface {
	AddRaidLog(ctx context.Context, l storage.RaidLog) error
	SetRaidActive(ctx context.Context, guildID string, at time.Time) error
}

// Responder executes the configured batch response when a raid is
// detected. A guild that already has an active response is not
// triggered again until an operator clears it.
type Responder struct {
	gw       Gateway
	store    RaidStore
	audit    *audit.Logger
	clock    Clock
	throttle time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]bool
}

func NewResponder(gw Gateway, store RaidStore, auditLogger *audit.Logger, throttle time.Duration, logger *zap.Logger) *Responder {
	return &Responder{
		gw:       gw,
		store:    store,
		audit:    auditLogger,
		clock:    realClock{},
		throttle: throttle,
		logger:   logger,
		active:   make(map[string]bool),
	}
}

// SetClock replaces the wall clock, for tests.
func (r *Responder) SetClock(c Clock) { r.clock = c }

// ClearActive re-arms raid response for the guild. Exposed for the
// operator surface; automatic detection never clears it.
func (r *Responder) ClearActive(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, guildID)
}

func (r *Responder) OnRaidDetected(ctx context.Context, guildID string, joins []Join, settings storage.GuildSettings) {
	r.mu.Lock()
	if r.active[guildID] {
		r.mu.Unlock()
		return
	}
	r.active[guildID] = true
	r.mu.Unlock()

	raidID := uuid.NewString()
	now := r.clock.Now()

	if err := r.store.SetRaidActive(ctx, guildID, now); err != nil {
		r.logger.Error("marking raid active", zap.String("guild_id", guildID), zap.Error(err))
	}
	if err := r.store.AddRaidLog(ctx, storage.RaidLog{
		GuildID:   guildID,
		RaidID:    raidID,
		Event:     "raid_detected",
		Details:   fmt.Sprintf("%d joins within window, response %q", len(joins), settings.RaidResponse),
		CreatedAt: now,
	}); err != nil {
		r.logger.Error("recording raid log", zap.String("guild_id", guildID), zap.Error(err))
	}
	r.audit.Record(ctx, audit.Entry{
		GuildID:  guildID,
		Level:    audit.LevelCrit,
		Category: audit.CategoryRaid,
		Event:    "raid_detected",
		Details:  fmt.Sprintf("%d joins within window, response %s", len(joins), settings.RaidResponse),
		RaidID:   raidID,
		At:       now,
	})

	r.postAlert(guildID, raidID, joins, settings)

	switch settings.RaidResponse {
	case "lockdown":
		r.lockdown(ctx, guildID, raidID, settings)
	case "kick":
		r.eachMember(ctx, guildID, raidID, joins, "kick", func(j Join) error {
			return r.gw.Kick(guildID, j.UserID, "raid response")
		})
	case "ban":
		r.eachMember(ctx, guildID, raidID, joins, "ban", func(j Join) error {
			if err := r.gw.Ban(guildID, j.UserID, "raid response", 1); err != nil {
				return err
			}
			if settings.RaidDurationMinutes > 0 {
				userID := j.UserID
				r.clock.AfterFunc(time.Duration(settings.RaidDurationMinutes)*time.Minute, func() {
					if err := r.gw.Unban(guildID, userID); err != nil {
						r.logger.Error("raid auto-unban failed",
							zap.String("guild_id", guildID),
							zap.String("user_id", userID),
							zap.Error(err))
					}
				})
			}
			return nil
		})
	case "mute":
		until := now.Add(muteLength(settings))
		r.eachMember(ctx, guildID, raidID, joins, "mute", func(j Join) error {
			return r.gw.Timeout(guildID, j.UserID, until)
		})
	case "alert":
		// alert embed already posted, nothing further
	default:
		r.logger.Warn("unknown raid response, treating as alert-only",
			zap.String("guild_id", guildID),
			zap.String("response", settings.RaidResponse))
	}
}

func (r *Responder) postAlert(guildID, raidID string, joins []Join, settings storage.GuildSettings) {
	if settings.RaidAlertChannel == "" {
		return
	}
	recent := joins
	if len(recent) > alertJoinerLimit {
		recent = recent[len(recent)-alertJoinerLimit:]
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(recent))
	for _, j := range recent {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   j.Username,
			Value:  fmt.Sprintf("<@%s>, account age %s", j.UserID, j.AccountAge().Round(time.Hour)),
			Inline: false,
		})
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Raid detected",
		Description: fmt.Sprintf("Raid %s: %d joins within the window. Response: %s.", raidID, len(joins), settings.RaidResponse),
		Color:       0xEF4444,
		Fields:      fields,
		Timestamp:   r.clock.Now().Format(time.RFC3339),
	}
	if err := r.gw.SendEmbed(settings.RaidAlertChannel, embed); err != nil {
		r.logger.Warn("raid alert failed", zap.String("channel_id", settings.RaidAlertChannel), zap.Error(err))
	}
}

// eachMember applies one operation to every joiner in the batch.
// Failures are independent; the batch continues past them.
func (r *Responder) eachMember(ctx context.Context, guildID, raidID string, joins []Join, action string, op func(Join) error) {
	for i, j := range joins {
		if i > 0 && r.throttle > 0 {
			r.clock.Sleep(r.throttle)
		}
		if err := op(j); err != nil {
			r.logger.Error("raid batch operation failed",
				zap.String("guild_id", guildID),
				zap.String("user_id", j.UserID),
				zap.String("action", action),
				zap.Error(err))
			continue
		}
		metrics.ActionsTaken.WithLabelValues(action).Inc()
		if err := r.store.AddRaidLog(ctx, storage.RaidLog{
			GuildID:   guildID,
			RaidID:    raidID,
			UserID:    j.UserID,
			Event:     action,
			CreatedAt: r.clock.Now(),
		}); err != nil {
			r.logger.Error("recording raid action", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
}

func (r *Responder) lockdown(ctx context.Context, guildID, raidID string, settings storage.GuildSettings) {
	previous, err := r.gw.SetVerificationLevel(guildID, discordgo.VerificationLevelVeryHigh)
	if err != nil {
		r.logger.Error("raising verification level", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	r.audit.Record(ctx, audit.Entry{
		GuildID:  guildID,
		Level:    audit.LevelWarn,
		Category: audit.CategoryRaid,
		Event:    "lockdown",
		Details:  fmt.Sprintf("verification raised to maximum for %d minutes", settings.RaidDurationMinutes),
		RaidID:   raidID,
		At:       r.clock.Now(),
	})

	duration := time.Duration(settings.RaidDurationMinutes) * time.Minute
	if duration <= 0 {
		return
	}
	r.clock.AfterFunc(duration, func() {
		if _, err := r.gw.SetVerificationLevel(guildID, previous); err != nil {
			r.logger.Error("reverting verification level", zap.String("guild_id", guildID), zap.Error(err))
		}
	})
}
