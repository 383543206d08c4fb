package bot

import (
	"context"
	"time"

	"watchtower/internal/antiraid"
	"watchtower/internal/ledger"
	"watchtower/internal/rules"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	ev := b.eventFromMessage(msg.Message, rules.KindCreate, "")
	b.handleContentEvent(ev)
}

func (b *Bot) onMessageUpdate(_ *discordgo.Session, msg *discordgo.MessageUpdate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	prev := ""
	if msg.BeforeUpdate != nil {
		prev = msg.BeforeUpdate.Content
	}
	ev := b.eventFromMessage(msg.Message, rules.KindEdit, prev)
	b.handleContentEvent(ev)
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	defer b.recoverHandler("member_add")

	ctx := context.Background()
	b.grace.Register(ctx, event.GuildID, event.User.ID)

	created, err := discordgo.SnowflakeTimestamp(event.User.ID)
	if err != nil {
		b.logger.Warn("unparseable user snowflake", zap.String("user_id", event.User.ID), zap.Error(err))
		created = time.Now()
	}
	b.detector.OnJoin(ctx, antiraid.Join{
		GuildID:   event.GuildID,
		UserID:    event.User.ID,
		Username:  event.User.Username,
		AvatarSet: event.User.Avatar != "",
		CreatedAt: created,
		RoleIDs:   event.Roles,
		At:        time.Now(),
	})
}

func (b *Bot) eventFromMessage(msg *discordgo.Message, kind rules.Kind, prev string) *rules.Event {
	ev := &rules.Event{
		GuildID:        msg.GuildID,
		UserID:         msg.Author.ID,
		ChannelID:      msg.ChannelID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		PrevContent:    prev,
		Kind:           kind,
		MentionRoleIDs: msg.MentionRoles,
		At:             time.Now(),
	}
	if msg.Member != nil {
		ev.RoleIDs = msg.Member.Roles
	}
	for _, u := range msg.Mentions {
		ev.MentionUserIDs = append(ev.MentionUserIDs, u.ID)
	}
	return ev
}

// handleContentEvent runs the full moderation pipeline for one message
// event: grace-period screen, rule evaluation, ledger decision, action.
func (b *Bot) handleContentEvent(ev *rules.Event) {
	defer b.recoverHandler("content_event")
	ctx := context.Background()

	if b.grace.Screen(ctx, ev) {
		return
	}

	ruleList, err := b.store.ListRules(ctx, ev.GuildID)
	if err != nil {
		b.logger.Error("loading rules", zap.String("guild_id", ev.GuildID), zap.Error(err))
		return
	}
	if len(ruleList) == 0 {
		return
	}

	match := b.engine.Evaluate(ctx, ev, ruleList)
	if match == nil {
		return
	}

	decision, err := b.warnings.Record(ctx, ev.GuildID, ev.UserID, match.Rule, 1)
	if err != nil {
		// storage trouble must not let a detected violation pass silently
		b.logger.Error("warning ledger unavailable, falling back to warn",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
		decision = ledger.Decision{Action: rules.ActionWarn, Threshold: match.Rule.Threshold}
	}

	if err := b.executor.Apply(ctx, ev, match.Rule, match.Reason, decision, 1); err != nil {
		b.logger.Error("applying action",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.String("action", string(decision.Action)),
			zap.Error(err))
	}
}

// recoverHandler keeps one malformed event from taking down the session
// event loop.
func (b *Bot) recoverHandler(handler string) {
	if r := recover(); r != nil {
		b.logger.Error("handler panic", zap.String("handler", handler), zap.Any("panic", r))
	}
}
