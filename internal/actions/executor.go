package actions

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"watchtower/internal/config"
	"watchtower/internal/ledger"
	"watchtower/internal/metrics"
	"watchtower/internal/modules/audit"
	"watchtower/internal/rules"
	"watchtower/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	// Discord refuses timeouts longer than 28 days.
	maxTimeout          = 28 * 24 * time.Hour
	defaultMuteDuration = 10 * time.Minute
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
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

func (t realTimer) Stop() bool { return t.t.Stop() }

// Gateway is the slice of platform operations the executor performs.
type Gateway interface {
	DeleteMessage(channelID, messageID string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
	DirectMessage(userID string, embed *discordgo.MessageEmbed) error
	Timeout(guildID, userID string, until time.Time) error
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, deleteDays int) error
	Unban(guildID, userID string) error
	HasGuildPermission(guildID string, perm int64) bool
}

type ViolationStore interface {
	AddViolation(ctx context.Context, v storage.Violation) error
}

// Executor carries out the action a ledger decision settled on: the
// platform calls, the violator notifications, the violation record,
// and the optional audit embed.
type Executor struct {
	gw     Gateway
	store  ViolationStore
	audit  *audit.Logger
	notify config.NotifyConfig
	clock  Clock
	logger *zap.Logger
}

func NewExecutor(gw Gateway, store ViolationStore, auditLogger *audit.Logger, notify config.NotifyConfig, logger *zap.Logger) *Executor {
	return &Executor{
		gw:     gw,
		store:  store,
		audit:  auditLogger,
		notify: notify,
		clock:  realClock{},
		logger: logger,
	}
}

// SetClock replaces the wall clock, for tests.
func (e *Executor) SetClock(c Clock) { e.clock = c }

// trail records one rule-decision entry on the moderation trail,
// attaching the change summary when the event was an edit.
func (e *Executor) trail(ctx context.Context, ev *rules.Event, level audit.Level, event, reason string) {
	entry := audit.Entry{
		GuildID:  ev.GuildID,
		UserID:   ev.UserID,
		Level:    level,
		Category: audit.CategoryRule,
		Event:    event,
		Details:  reason,
		At:       e.clock.Now(),
	}
	if ev.IsEdit() {
		entry.Diff = rules.ClassifyChange(ev.PrevContent, ev.Content)
	}
	e.audit.Record(ctx, entry)
}

// Apply performs the decided action for one violation. Notification
// failures are logged and never fail the action; a missing moderation
// permission aborts mute/kick/ban before any platform call.
func (e *Executor) Apply(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string, decision ledger.Decision, severity int) error {
	var actionErr error
	switch decision.Action {
	case rules.ActionWarn:
		actionErr = e.applyWarn(ctx, ev, rule, reason, decision)
	case rules.ActionDelete:
		actionErr = e.applyDelete(ctx, ev, rule, reason)
	case rules.ActionMute:
		actionErr = e.applyMute(ctx, ev, rule, reason)
	case rules.ActionKick:
		actionErr = e.applyKick(ctx, ev, rule, reason)
	case rules.ActionBan:
		actionErr = e.applyBan(ctx, ev, rule, reason)
	default:
		actionErr = fmt.Errorf("unknown action %q", decision.Action)
	}
	if actionErr != nil {
		return actionErr
	}

	metrics.ActionsTaken.WithLabelValues(string(decision.Action)).Inc()
	e.recordViolation(ctx, ev, rule, reason, decision, severity)
	e.postAuditEmbed(ctx, ev, rule, reason, decision)
	return nil
}

func (e *Executor) applyWarn(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string, decision ledger.Decision) error {
	e.sendNotice(ev, rule, fmt.Sprintf("<@%s> %s (warning %d/%d)", ev.UserID, reason, decision.Count, decision.Threshold))
	e.sendDM(ev.UserID, "Warning", fmt.Sprintf("You received a warning: %s (%d/%d)", reason, decision.Count, decision.Threshold))
	if rule.DeleteMessage {
		e.deleteMessage(ev)
	}
	e.trail(ctx, ev, audit.LevelInfo, "warn", reason)
	return nil
}

func (e *Executor) applyDelete(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string) error {
	e.sendNotice(ev, rule, fmt.Sprintf("<@%s> your message was removed: %s", ev.UserID, reason))
	e.deleteMessage(ev)
	e.trail(ctx, ev, audit.LevelInfo, "delete", reason)
	return nil
}

func (e *Executor) applyMute(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string) error {
	if !e.gw.HasGuildPermission(ev.GuildID, discordgo.PermissionModerateMembers) {
		err := fmt.Errorf("missing timeout permission in guild %s", ev.GuildID)
		e.logger.Error("cannot mute", zap.String("guild_id", ev.GuildID), zap.Error(err))
		return err
	}
	d := time.Duration(rule.DurationSeconds) * time.Second
	if d <= 0 {
		d = defaultMuteDuration
	}
	if d > maxTimeout {
		d = maxTimeout
	}
	if err := e.gw.Timeout(ev.GuildID, ev.UserID, e.clock.Now().Add(d)); err != nil {
		return fmt.Errorf("timing out member: %w", err)
	}
	e.sendDM(ev.UserID, "Muted", fmt.Sprintf("You were muted for %s: %s", d, reason))
	if rule.DeleteMessage {
		e.deleteMessage(ev)
	}
	e.trail(ctx, ev, audit.LevelWarn, "mute", reason)
	return nil
}

func (e *Executor) applyKick(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string) error {
	if !e.gw.HasGuildPermission(ev.GuildID, discordgo.PermissionKickMembers) {
		err := fmt.Errorf("missing kick permission in guild %s", ev.GuildID)
		e.logger.Error("cannot kick", zap.String("guild_id", ev.GuildID), zap.Error(err))
		return err
	}
	e.sendDM(ev.UserID, "Kicked", fmt.Sprintf("You were kicked: %s", reason))
	if err := e.gw.Kick(ev.GuildID, ev.UserID, reason); err != nil {
		return fmt.Errorf("kicking member: %w", err)
	}
	if rule.DeleteMessage {
		e.deleteMessage(ev)
	}
	e.trail(ctx, ev, audit.LevelWarn, "kick", reason)
	return nil
}

func (e *Executor) applyBan(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string) error {
	if !e.gw.HasGuildPermission(ev.GuildID, discordgo.PermissionBanMembers) {
		err := fmt.Errorf("missing ban permission in guild %s", ev.GuildID)
		e.logger.Error("cannot ban", zap.String("guild_id", ev.GuildID), zap.Error(err))
		return err
	}
	e.sendDM(ev.UserID, "Banned", fmt.Sprintf("You were banned: %s", reason))
	if err := e.gw.Ban(ev.GuildID, ev.UserID, reason, 0); err != nil {
		return fmt.Errorf("banning member: %w", err)
	}
	if rule.DurationSeconds > 0 {
		guildID, userID := ev.GuildID, ev.UserID
		e.clock.AfterFunc(time.Duration(rule.DurationSeconds)*time.Second, func() {
			if err := e.gw.Unban(guildID, userID); err != nil {
				e.logger.Error("auto-unban failed",
					zap.String("guild_id", guildID),
					zap.String("user_id", userID),
					zap.Error(err))
			}
		})
	}
	e.trail(ctx, ev, audit.LevelCrit, "ban", reason)
	return nil
}

func (e *Executor) sendNotice(ev *rules.Event, rule rules.Rule, text string) {
	if !e.notify.ChannelNoticeEnabled {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Moderation notice",
		Description: text,
		Color:       e.notify.EmbedColors.Warning,
	}
	if err := e.gw.SendEmbed(ev.ChannelID, embed); err != nil {
		e.logger.Warn("channel notice failed", zap.String("channel_id", ev.ChannelID), zap.Error(err))
	}
}

func (e *Executor) sendDM(userID, title, text string) {
	if !e.notify.DMNoticeEnabled {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: text,
		Color:       e.notify.EmbedColors.Action,
	}
	if err := e.gw.DirectMessage(userID, embed); err != nil {
		e.logger.Debug("dm notice failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Executor) deleteMessage(ev *rules.Event) {
	if err := e.gw.DeleteMessage(ev.ChannelID, ev.MessageID); err != nil {
		e.logger.Warn("message deletion failed",
			zap.String("channel_id", ev.ChannelID),
			zap.String("message_id", ev.MessageID),
			zap.Error(err))
	}
}

func (e *Executor) recordViolation(ctx context.Context, ev *rules.Event, rule rules.Rule, reason string, decision ledger.Decision, severity int) {
	v := storage.Violation{
		GuildID:   ev.GuildID,
		UserID:    ev.UserID,
		RuleID:    rule.ID,
		RuleName:  string(rule.Trigger),
		Action:    string(decision.Action),
		Count:     decision.Count,
		Threshold: decision.Threshold,
		Severity:  severity,
		Reason:    reason,
		CreatedAt: e.clock.Now(),
	}
	if ev.IsEdit() {
		v.DiffSummary = rules.ClassifyChange(ev.PrevContent, ev.Content)
	}
	if err := e.store.AddViolation(ctx, v); err != nil {
		e.logger.Error("recording violation",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

func (e *Executor) postAuditEmbed(_ context.Context, ev *rules.Event, rule rules.Rule, reason string, decision ledger.Decision) {
	if rule.LogChannelID == "" {
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: fmt.Sprintf("<@%s>", ev.UserID), Inline: true},
		{Name: "Rule", Value: string(rule.Trigger), Inline: true},
		{Name: "Action", Value: string(decision.Action), Inline: true},
		{Name: "Warnings", Value: fmt.Sprintf("%d/%d", decision.Count, decision.Threshold), Inline: true},
		{Name: "Reason", Value: reason, Inline: false},
	}
	if ev.IsEdit() {
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: "Before", Value: truncate(ev.PrevContent, 512), Inline: false},
			&discordgo.MessageEmbedField{Name: "After", Value: truncate(ev.Content, 512), Inline: false},
			&discordgo.MessageEmbedField{Name: "Change", Value: rules.ClassifyChange(ev.PrevContent, ev.Content), Inline: false},
		)
	}
	embed := &discordgo.MessageEmbed{
		Title:     "Rule violation",
		Color:     e.notify.EmbedColors.Action,
		Fields:    fields,
		Timestamp: e.clock.Now().Format(time.RFC3339),
	}
	if err := e.gw.SendEmbed(rule.LogChannelID, embed); err != nil {
		e.logger.Warn("audit embed failed", zap.String("channel_id", rule.LogChannelID), zap.Error(err))
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
