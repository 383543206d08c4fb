// Package audit keeps the engine's moderation trail. Every decision,
// raid event, and grace action is recorded as one Entry, fanned out to
// the store, the process log, and an optional guild notifier.
package audit

import (
	"context"
	"time"

	"watchtower/internal/metrics"
	"watchtower/internal/storage"

	"go.uber.org/zap"
)

// Level classifies how urgently an operator should see an entry.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelCrit
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelCrit:
		return "CRIT"
	default:
		return "INFO"
	}
}

// Category names the engine surface an entry came from.
type Category string

const (
	CategoryRule  Category = "rule"
	CategoryJoin  Category = "join"
	CategoryRaid  Category = "raid"
	CategoryGrace Category = "grace"
)

// Entry is one moderation trail record. RaidID ties raid entries to
// their batch; Diff carries the change summary when the triggering
// event was a message edit.
type Entry struct {
	GuildID  string
	UserID   string
	Level    Level
	Category Category
	Event    string
	Details  string
	RaidID   string
	Diff     string
	At       time.Time
}

// Sink persists trail rows.
type Sink interface {
	AddAuditLog(ctx context.Context, row storage.AuditLog) error
}

type Logger struct {
	sink   Sink
	logger *zap.Logger
	notify func(context.Context, Entry)
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	return &Logger{sink: sink, logger: logger}
}

// SetNotifier installs a best-effort fan-out, typically a guild
// log-channel embed. Only WARN and CRIT entries are forwarded; INFO
// stays in the store and the process log.
func (l *Logger) SetNotifier(notify func(context.Context, Entry)) {
	l.notify = notify
}

// Record writes the entry everywhere it belongs. Store failures are
// logged and never surface to the caller.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	metrics.AuditEntries.WithLabelValues(string(e.Category), e.Level.String()).Inc()
	if l.sink != nil {
		row := storage.AuditLog{
			GuildID:   e.GuildID,
			UserID:    e.UserID,
			Level:     e.Level.String(),
			Category:  string(e.Category),
			Event:     e.Event,
			Details:   e.Details,
			RaidID:    e.RaidID,
			Diff:      e.Diff,
			CreatedAt: e.At,
		}
		if err := l.sink.AddAuditLog(ctx, row); err != nil {
			l.logger.Error("audit row write failed",
				zap.String("guild_id", e.GuildID),
				zap.String("event", e.Event),
				zap.Error(err))
		}
	}
	if l.notify != nil && e.Level >= LevelWarn {
		l.notify(ctx, e)
	}
	l.logger.Info("audit",
		zap.Stringer("level", e.Level),
		zap.String("category", string(e.Category)),
		zap.String("guild_id", e.GuildID),
		zap.String("user_id", e.UserID),
		zap.String("event", e.Event),
		zap.String("details", e.Details))
}
