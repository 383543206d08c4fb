package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

func (s *Store) IsDomainBlacklisted(ctx context.Context, domain string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM domain_blacklist WHERE domain = ?`, strings.ToLower(domain))
	var one int
	err := row.Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AddBlacklistDomain inserts a domain verdict; re-inserting an existing
// domain is a no-op, which keeps the list deduplicated.
func (s *Store) AddBlacklistDomain(ctx context.Context, domain, reason, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO domain_blacklist (domain, reason, source, created_at)
		VALUES (?, ?, ?, ?)
	`, strings.ToLower(domain), reason, source, time.Now().Unix())
	return err
}

func (s *Store) ListBlacklistDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM domain_blacklist ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}
