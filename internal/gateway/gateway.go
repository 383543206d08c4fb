package gateway

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Session wraps a discordgo session behind the small set of platform
// operations the moderation pipeline performs. Consumers declare their
// own interfaces over the subset they need so they can be tested with
// fakes.
type Session struct {
	s *discordgo.Session
}

func New(s *discordgo.Session) *Session {
	return &Session{s: s}
}

func (g *Session) DeleteMessage(channelID, messageID string) error {
	return g.s.ChannelMessageDelete(channelID, messageID)
}

func (g *Session) SendMessage(channelID, content string) error {
	_, err := g.s.ChannelMessageSend(channelID, content)
	return err
}

func (g *Session) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := g.s.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// DirectMessage opens (or reuses) the DM channel with the user and
// sends the embed there.
func (g *Session) DirectMessage(userID string, embed *discordgo.MessageEmbed) error {
	channel, err := g.s.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening dm channel: %w", err)
	}
	_, err = g.s.ChannelMessageSendEmbed(channel.ID, embed)
	return err
}

func (g *Session) React(channelID, messageID, emoji string) error {
	return g.s.MessageReactionAdd(channelID, messageID, emoji)
}

func (g *Session) Timeout(guildID, userID string, until time.Time) error {
	return g.s.GuildMemberTimeout(guildID, userID, &until)
}

func (g *Session) Kick(guildID, userID, reason string) error {
	return g.s.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (g *Session) Ban(guildID, userID, reason string, deleteDays int) error {
	return g.s.GuildBanCreateWithReason(guildID, userID, reason, deleteDays)
}

func (g *Session) Unban(guildID, userID string) error {
	return g.s.GuildBanDelete(guildID, userID)
}

// SetVerificationLevel raises or lowers the guild's verification level
// and returns the level that was in effect before the change, so the
// caller can schedule a revert.
func (g *Session) SetVerificationLevel(guildID string, level discordgo.VerificationLevel) (discordgo.VerificationLevel, error) {
	guild, err := g.guild(guildID)
	if err != nil {
		return 0, err
	}
	previous := guild.VerificationLevel
	_, err = g.s.GuildEdit(guildID, &discordgo.GuildParams{VerificationLevel: &level})
	if err != nil {
		return 0, err
	}
	return previous, nil
}

// HasGuildPermission reports whether the bot's own member carries the
// permission in the guild, either directly through a role or through
// administrator.
func (g *Session) HasGuildPermission(guildID string, perm int64) bool {
	guild, err := g.guild(guildID)
	if err != nil || g.s.State == nil || g.s.State.User == nil {
		return false
	}
	member := g.member(guildID, g.s.State.User.ID)
	if member == nil {
		return false
	}
	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&perm != 0
}

func (g *Session) guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := g.s.State.Guild(guildID); err == nil && guild != nil {
		return guild, nil
	}
	return g.s.Guild(guildID)
}

func (g *Session) member(guildID, userID string) *discordgo.Member {
	if member, err := g.s.State.Member(guildID, userID); err == nil && member != nil {
		return member
	}
	member, _ := g.s.GuildMember(guildID, userID)
	return member
}
