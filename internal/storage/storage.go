package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// GuildSettings is the per-guild configuration the engine reads on every
// event. Missing rows fall back to the supplied defaults.
type GuildSettings struct {
	GuildID               string
	LogChannel            string
	RaidEnabled           bool
	RaidJoinRate          int
	RaidWindowSeconds     int
	RaidMinAccountAgeDays int
	RaidResponse          string
	RaidDurationMinutes   int
	RaidAlertChannel      string
	GracePeriodMinutes    int
	GraceAutoKick         bool
	GraceDeleteInvites    bool
}

// AuditLog is one moderation trail row. RaidID and Diff are empty
// outside raid and edit entries.
type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Category  string
	Event     string
	Details   string
	RaidID    string
	Diff      string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT log_channel, raid_enabled, raid_join_rate, raid_window_seconds,
		raid_min_account_age_days, raid_response, raid_duration_minutes,
		raid_alert_channel, grace_period_minutes, grace_auto_kick, grace_delete_invites
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := defaults
	result.GuildID = guildID

	var raidEnabled, autoKick, deleteInvites int
	err := row.Scan(
		&result.LogChannel,
		&raidEnabled,
		&result.RaidJoinRate,
		&result.RaidWindowSeconds,
		&result.RaidMinAccountAgeDays,
		&result.RaidResponse,
		&result.RaidDurationMinutes,
		&result.RaidAlertChannel,
		&result.GracePeriodMinutes,
		&autoKick,
		&deleteInvites,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	result.RaidEnabled = raidEnabled == 1
	result.GraceAutoKick = autoKick == 1
	result.GraceDeleteInvites = deleteInvites == 1
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, log_channel, raid_enabled, raid_join_rate, raid_window_seconds,
			raid_min_account_age_days, raid_response, raid_duration_minutes,
			raid_alert_channel, grace_period_minutes, grace_auto_kick, grace_delete_invites
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel = excluded.log_channel,
			raid_enabled = excluded.raid_enabled,
			raid_join_rate = excluded.raid_join_rate,
			raid_window_seconds = excluded.raid_window_seconds,
			raid_min_account_age_days = excluded.raid_min_account_age_days,
			raid_response = excluded.raid_response,
			raid_duration_minutes = excluded.raid_duration_minutes,
			raid_alert_channel = excluded.raid_alert_channel,
			grace_period_minutes = excluded.grace_period_minutes,
			grace_auto_kick = excluded.grace_auto_kick,
			grace_delete_invites = excluded.grace_delete_invites
	`,
		settings.GuildID,
		settings.LogChannel,
		boolToInt(settings.RaidEnabled),
		settings.RaidJoinRate,
		settings.RaidWindowSeconds,
		settings.RaidMinAccountAgeDays,
		settings.RaidResponse,
		settings.RaidDurationMinutes,
		settings.RaidAlertChannel,
		settings.GracePeriodMinutes,
		boolToInt(settings.GraceAutoKick),
		boolToInt(settings.GraceDeleteInvites),
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, category, event, details, raid_id, diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Category, log.Event, log.Details, log.RaidID, log.Diff, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, category, event, details, raid_id, diff, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Category, &log.Event, &log.Details, &log.RaidID, &log.Diff, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
