package rules

// Trigger is the category of violation a rule detects.
type Trigger string

const (
	TriggerSpam        Trigger = "spam"
	TriggerCaps        Trigger = "caps"
	TriggerLinks       Trigger = "links"
	TriggerInviteLinks Trigger = "invite_links"
	TriggerProfanity   Trigger = "profanity"
	TriggerMentionSpam Trigger = "mention_spam"
)

// Action is what a rule does when it matches.
type Action string

const (
	ActionWarn   Action = "warn"
	ActionDelete Action = "delete"
	ActionMute   Action = "mute"
	ActionKick   Action = "kick"
	ActionBan    Action = "ban"
)

// Escalatable reports whether the action is harsher than warn/delete and
// therefore subject to the warning-count escalation gate.
func (a Action) Escalatable() bool {
	switch a {
	case ActionMute, ActionKick, ActionBan:
		return true
	default:
		return false
	}
}

// Rule is one guild-configured moderation rule. Rules are owned by
// external configuration storage and read-only to the engine.
type Rule struct {
	ID               int64
	GuildID          string
	Trigger          Trigger
	Threshold        int
	Action           Action
	DurationSeconds  int
	DeleteMessage    bool
	LogChannelID     string
	ExemptChannelIDs []string
	ExemptRoleIDs    []string
	Escalation       bool
	Enabled          bool
}

func (r Rule) ChannelExempt(channelID string) bool {
	for _, id := range r.ExemptChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

func (r Rule) RoleExempt(roleIDs []string) bool {
	if len(r.ExemptRoleIDs) == 0 {
		return false
	}
	exempt := make(map[string]struct{}, len(r.ExemptRoleIDs))
	for _, id := range r.ExemptRoleIDs {
		exempt[id] = struct{}{}
	}
	for _, id := range roleIDs {
		if _, ok := exempt[id]; ok {
			return true
		}
	}
	return false
}

// Word is one entry of a guild's profanity word list.
type Word struct {
	Text          string
	WholeWord     bool
	CaseSensitive bool
}
