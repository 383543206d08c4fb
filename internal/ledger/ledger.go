package ledger

import (
	"context"

	"watchtower/internal/rules"

	"go.uber.org/zap"
)

// CounterStore is the persistent per-user, per-category warning counter.
// The read-increment-write round trip is not transactional across
// Record calls; simultaneous violations by one user can lose an update,
// which is accepted.
type CounterStore interface {
	WarningCount(ctx context.Context, guildID, userID, category string) (int, error)
	IncrementWarnings(ctx context.Context, guildID, userID, category string, delta int) (int, error)
	ResetWarnings(ctx context.Context, guildID, userID, category string) error
}

// Decision is the resolved outcome for one violation: the action to
// actually take, which may be softer than the rule configured.
type Decision struct {
	Action     rules.Action
	Count      int
	Threshold  int
	Downgraded bool
}

type Ledger struct {
	store  CounterStore
	logger *zap.Logger
}

func New(store CounterStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Record registers a violation of the given rule and decides the action
// for this occurrence. Rules with escalation enabled hold their harsh
// action back until the warning counter reaches the rule threshold;
// until then each occurrence is downgraded to a warn and counted. When
// the harsh action fires the counter resets, so the user starts clean
// afterward. Warn rules always count; delete rules never touch the
// counter.
func (l *Ledger) Record(ctx context.Context, guildID, userID string, rule rules.Rule, severity int) (Decision, error) {
	if severity <= 0 {
		severity = 1
	}
	category := string(rule.Trigger)

	current, err := l.store.WarningCount(ctx, guildID, userID, category)
	if err != nil {
		return Decision{}, err
	}
	effective := current + severity

	if rule.Action.Escalatable() && rule.Escalation && effective < rule.Threshold {
		count, err := l.store.IncrementWarnings(ctx, guildID, userID, category, severity)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: rules.ActionWarn, Count: count, Threshold: rule.Threshold, Downgraded: true}, nil
	}

	switch rule.Action {
	case rules.ActionWarn:
		count, err := l.store.IncrementWarnings(ctx, guildID, userID, category, severity)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: rules.ActionWarn, Count: count, Threshold: rule.Threshold}, nil
	case rules.ActionDelete:
		return Decision{Action: rules.ActionDelete, Count: current, Threshold: rule.Threshold}, nil
	default:
		if err := l.store.ResetWarnings(ctx, guildID, userID, category); err != nil {
			l.logger.Error("resetting warning counter",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.String("category", category),
				zap.Error(err))
		}
		return Decision{Action: rule.Action, Count: effective, Threshold: rule.Threshold}, nil
	}
}
