package rules

import "time"

// Kind distinguishes newly created messages from edits. The evaluation
// pipeline is shared; only the spam tracker variant and the diff payload
// differ.
type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
)

// Event is one normalized content event. It is created per message,
// consumed once, and never persisted.
type Event struct {
	GuildID        string
	UserID         string
	ChannelID      string
	MessageID      string
	Content        string
	PrevContent    string
	Kind           Kind
	RoleIDs        []string
	MentionUserIDs []string
	MentionRoleIDs []string
	At             time.Time
}

func (e *Event) IsEdit() bool { return e.Kind == KindEdit }

// DistinctMentions counts distinct mentioned users and roles together.
func (e *Event) DistinctMentions() int {
	seen := make(map[string]struct{}, len(e.MentionUserIDs)+len(e.MentionRoleIDs))
	for _, id := range e.MentionUserIDs {
		seen["u:"+id] = struct{}{}
	}
	for _, id := range e.MentionRoleIDs {
		seen["r:"+id] = struct{}{}
	}
	return len(seen)
}
