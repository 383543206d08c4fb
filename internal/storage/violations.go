package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Violation struct {
	ID          int64
	GuildID     string
	UserID      string
	RuleID      int64
	RuleName    string
	Action      string
	Count       int
	Threshold   int
	Severity    int
	Reason      string
	DiffSummary string
	CreatedAt   time.Time
}

type RaidLog struct {
	ID        int64
	GuildID   string
	RaidID    string
	UserID    string
	Event     string
	Details   string
	CreatedAt time.Time
}

type RaidState struct {
	GuildID   string
	Active    bool
	StartedAt time.Time
}

func (s *Store) AddViolation(ctx context.Context, v Violation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (guild_id, user_id, rule_id, rule_name, action,
			count, threshold, severity, reason, diff_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.GuildID, v.UserID, v.RuleID, v.RuleName, v.Action, v.Count, v.Threshold,
		v.Severity, v.Reason, v.DiffSummary, v.CreatedAt.Unix())
	return err
}

func (s *Store) ListViolations(ctx context.Context, guildID, userID string, limit int) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, rule_id, rule_name, action, count,
			threshold, severity, reason, diff_summary, created_at
		FROM violations
		WHERE guild_id = ? AND user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, guildID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Violation
	for rows.Next() {
		var v Violation
		var created int64
		if err := rows.Scan(&v.ID, &v.GuildID, &v.UserID, &v.RuleID, &v.RuleName,
			&v.Action, &v.Count, &v.Threshold, &v.Severity, &v.Reason,
			&v.DiffSummary, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(created, 0)
		list = append(list, v)
	}
	return list, rows.Err()
}

func (s *Store) AddRaidLog(ctx context.Context, log RaidLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raid_logs (guild_id, raid_id, user_id, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.RaidID, log.UserID, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) SetRaidActive(ctx context.Context, guildID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raid_state (guild_id, active, started_at)
		VALUES (?, 1, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			active = 1,
			started_at = excluded.started_at
	`, guildID, startedAt.Unix())
	return err
}

// ClearRaidState exists for operators; nothing in the engine clears the
// flag automatically.
func (s *Store) ClearRaidState(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE raid_state SET active = 0 WHERE guild_id = ?`, guildID)
	return err
}

func (s *Store) GetRaidState(ctx context.Context, guildID string) (RaidState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT active, started_at FROM raid_state WHERE guild_id = ?`, guildID)

	state := RaidState{GuildID: guildID}
	var active int
	var started int64
	err := row.Scan(&active, &started)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, nil
		}
		return RaidState{}, err
	}
	state.Active = active == 1
	state.StartedAt = time.Unix(started, 0)
	return state, nil
}
