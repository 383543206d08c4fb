package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) WarningCount(ctx context.Context, guildID, userID, category string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count FROM user_warnings
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`, guildID, userID, category)

	var count int
	err := row.Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// IncrementWarnings adds delta to the (guild, user, category) counter and
// returns the new count. The read-modify-write runs inside one
// transaction; the surrounding decide/execute pipeline is not
// transactional, which is an accepted limitation.
func (s *Store) IncrementWarnings(ctx context.Context, guildID, userID, category string, delta int) (int, error) {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	row := tx.QueryRowContext(ctx, `
		SELECT count FROM user_warnings
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`, guildID, userID, category)
	scanErr := row.Scan(&count)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return 0, err
	}

	count += delta
	if count < 0 {
		count = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_warnings (guild_id, user_id, category, count, last_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id, category) DO UPDATE SET
			count = excluded.count,
			last_at = excluded.last_at
	`, guildID, userID, category, count, now.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetWarnings(ctx context.Context, guildID, userID, category string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_warnings (guild_id, user_id, category, count, last_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(guild_id, user_id, category) DO UPDATE SET
			count = 0,
			last_at = excluded.last_at
	`, guildID, userID, category, time.Now().Unix())
	return err
}
