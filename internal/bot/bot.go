package bot

import (
	"context"
	"fmt"
	"time"

	"watchtower/internal/actions"
	"watchtower/internal/antiraid"
	"watchtower/internal/config"
	"watchtower/internal/gateway"
	"watchtower/internal/grace"
	"watchtower/internal/ledger"
	"watchtower/internal/modules/audit"
	"watchtower/internal/reputation"
	"watchtower/internal/rules"
	"watchtower/internal/storage"
	"watchtower/internal/track"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Bot owns the discord session and wires the moderation pipeline into
// its event handlers.
type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	session  *discordgo.Session
	gw       *gateway.Session
	settings *settingsSource

	engine    *rules.Engine
	creates   *track.CreateTracker
	edits     *track.EditTracker
	warnings  *ledger.Ledger
	executor  *actions.Executor
	audit     *audit.Logger
	detector  *antiraid.Detector
	responder *antiraid.Responder
	grace     *grace.Monitor

	stopSweep chan struct{}
}

// settingsSource resolves guild settings against configured defaults
// and feeds the components that declare their own provider interfaces.
type settingsSource struct {
	store    *storage.Store
	defaults storage.GuildSettings
}

func (s *settingsSource) GetGuildSettings(ctx context.Context, guildID string) (storage.GuildSettings, error) {
	return s.store.GetGuildSettings(ctx, guildID, s.defaults)
}

func (s *settingsSource) BypassRoles(ctx context.Context, guildID string) ([]string, error) {
	return s.store.BypassRoles(ctx, guildID)
}

func defaultSettings(d config.GuildDefaults) storage.GuildSettings {
	return storage.GuildSettings{
		LogChannel:            d.LogChannel,
		RaidEnabled:           d.RaidEnabled,
		RaidJoinRate:          d.RaidJoinRate,
		RaidWindowSeconds:     d.RaidWindowSeconds,
		RaidMinAccountAgeDays: d.RaidMinAccountAgeDays,
		RaidResponse:          d.RaidResponse,
		RaidDurationMinutes:   d.RaidDurationMinutes,
		RaidAlertChannel:      d.RaidAlertChannel,
		GracePeriodMinutes:    d.GracePeriodMinutes,
		GraceAutoKick:         d.GraceAutoKick,
		GraceDeleteInvites:    d.GraceDeleteInvites,
	}
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, links *reputation.Aggregator, auditLogger *audit.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent

	gw := gateway.New(session)
	settings := &settingsSource{store: store, defaults: defaultSettings(cfg.Defaults)}

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		session:   session,
		gw:        gw,
		settings:  settings,
		creates:   track.NewCreateTracker(),
		edits:     track.NewEditTracker(),
		audit:     auditLogger,
		stopSweep: make(chan struct{}),
	}

	b.engine = rules.NewEngine(links, b.creates, b.edits, store, logger)
	b.engine.SetSafeLinkAck(b.ackSafeLinks)
	b.warnings = ledger.New(store, logger)
	b.executor = actions.NewExecutor(gw, store, auditLogger, cfg.Notifications, logger)
	throttle := time.Duration(cfg.Batch.ThrottleMillis) * time.Millisecond
	b.responder = antiraid.NewResponder(gw, store, auditLogger, throttle, logger)
	b.detector = antiraid.NewDetector(settings, b.responder, auditLogger, logger)
	b.grace = grace.NewMonitor(settings, gw, auditLogger, logger)

	auditLogger.SetNotifier(b.notifyAudit)
	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onGuildMemberAdd)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startSweeper()
	return nil
}

func (b *Bot) Close() {
	close(b.stopSweep)
	if b.session != nil {
		_ = b.session.Close()
	}
}

// startSweeper runs the periodic hygiene pass over the in-memory
// tracking windows.
func (b *Bot) startSweeper() {
	interval := time.Duration(b.cfg.Sweep.IntervalMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				b.creates.Sweep(now)
				b.edits.Sweep(now)
				b.detector.Sweep(now)
			case <-b.stopSweep:
				return
			}
		}
	}()
}

func (b *Bot) onReady(session *discordgo.Session, _ *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

// ackSafeLinks reacts to a link-bearing message whose scan came back
// clean. Failures are irrelevant.
func (b *Bot) ackSafeLinks(_ context.Context, ev *rules.Event, checked int) {
	if ev.Kind != rules.KindCreate {
		return
	}
	if err := b.gw.React(ev.ChannelID, ev.MessageID, "✅"); err != nil {
		b.logger.Debug("safe link ack failed",
			zap.String("channel_id", ev.ChannelID),
			zap.String("message_id", ev.MessageID),
			zap.Int("links", checked),
			zap.Error(err))
	}
}

// notifyAudit posts a trail entry to the guild's log channel when one
// is configured. The audit logger only forwards WARN and CRIT entries.
func (b *Bot) notifyAudit(ctx context.Context, entry audit.Entry) {
	settings, err := b.settings.GetGuildSettings(ctx, entry.GuildID)
	if err != nil || settings.LogChannel == "" {
		return
	}
	color := b.cfg.Notifications.EmbedColors.Warning
	if entry.Level == audit.LevelCrit {
		color = b.cfg.Notifications.EmbedColors.Error
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("[%s] %s", entry.Level, entry.Event),
		Description: entry.Details,
		Color:       color,
		Timestamp:   entry.At.Format(time.RFC3339),
	}
	if entry.UserID != "" {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "User", Value: fmt.Sprintf("<@%s>", entry.UserID), Inline: true})
	}
	if entry.RaidID != "" {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Raid", Value: entry.RaidID, Inline: true})
	}
	if entry.Diff != "" {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Change", Value: entry.Diff, Inline: false})
	}
	if err := b.gw.SendEmbed(settings.LogChannel, embed); err != nil {
		b.logger.Warn("audit notification failed",
			zap.String("guild_id", entry.GuildID),
			zap.String("channel_id", settings.LogChannel),
			zap.Error(err))
	}
}
