package storage

import (
	"context"
	"strings"

	"watchtower/internal/rules"
)

// ListRules returns the enabled and disabled moderation rules for a guild
// in insertion order. The engine itself skips disabled rules.
func (s *Store) ListRules(ctx context.Context, guildID string) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, trigger_type, threshold, action, duration_seconds,
		delete_message, log_channel, exempt_channels, exempt_roles, escalation, enabled
		FROM moderation_rules WHERE guild_id = ? ORDER BY id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []rules.Rule
	for rows.Next() {
		var rule rules.Rule
		var trigger, action, exemptChannels, exemptRoles string
		var deleteMessage, escalation, enabled int
		if err := rows.Scan(&rule.ID, &rule.GuildID, &trigger, &rule.Threshold, &action,
			&rule.DurationSeconds, &deleteMessage, &rule.LogChannelID,
			&exemptChannels, &exemptRoles, &escalation, &enabled); err != nil {
			return nil, err
		}
		rule.Trigger = rules.Trigger(trigger)
		rule.Action = rules.Action(action)
		rule.DeleteMessage = deleteMessage == 1
		rule.Escalation = escalation == 1
		rule.Enabled = enabled == 1
		rule.ExemptChannelIDs = splitIDs(exemptChannels)
		rule.ExemptRoleIDs = splitIDs(exemptRoles)
		list = append(list, rule)
	}
	return list, rows.Err()
}

func (s *Store) AddRule(ctx context.Context, rule rules.Rule) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_rules (
			guild_id, trigger_type, threshold, action, duration_seconds,
			delete_message, log_channel, exempt_channels, exempt_roles, escalation, enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.GuildID, string(rule.Trigger), rule.Threshold, string(rule.Action),
		rule.DurationSeconds, boolToInt(rule.DeleteMessage), rule.LogChannelID,
		joinIDs(rule.ExemptChannelIDs), joinIDs(rule.ExemptRoleIDs),
		boolToInt(rule.Escalation), boolToInt(rule.Enabled))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) ProfanityWords(ctx context.Context, guildID string) ([]rules.Word, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT word, whole_word, case_sensitive FROM profanity_words WHERE guild_id = ?
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var words []rules.Word
	for rows.Next() {
		var word rules.Word
		var wholeWord, caseSensitive int
		if err := rows.Scan(&word.Text, &wholeWord, &caseSensitive); err != nil {
			return nil, err
		}
		word.WholeWord = wholeWord == 1
		word.CaseSensitive = caseSensitive == 1
		words = append(words, word)
	}
	return words, rows.Err()
}

func (s *Store) AddProfanityWord(ctx context.Context, guildID string, word rules.Word) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO profanity_words (guild_id, word, whole_word, case_sensitive)
		VALUES (?, ?, ?, ?)
	`, guildID, word.Text, boolToInt(word.WholeWord), boolToInt(word.CaseSensitive))
	return err
}

func (s *Store) ProfanityPatterns(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern FROM profanity_patterns WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var pattern string
		if err := rows.Scan(&pattern); err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

func (s *Store) AddProfanityPattern(ctx context.Context, guildID, pattern string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO profanity_patterns (guild_id, pattern) VALUES (?, ?)`, guildID, pattern)
	return err
}

func (s *Store) BypassRoles(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role_id FROM bypass_roles WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, roleID)
	}
	return roleIDs, rows.Err()
}

func (s *Store) AddBypassRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO bypass_roles (guild_id, role_id) VALUES (?, ?)`, guildID, roleID)
	return err
}

func splitIDs(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
