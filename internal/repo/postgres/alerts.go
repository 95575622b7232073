package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

func (s *Store) GetAlert(ctx context.Context, domainName string) (*repo.AlertRecord, error) {
	const q = `SELECT last_status, last_sent_at FROM alerts WHERE domain=$1`
	r := repo.AlertRecord{Domain: domainName}
	var (
		status   string
		lastSent *time.Time
	)
	err := s.pool.QueryRow(ctx, q, domainName).Scan(&status, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	r.LastStatus = domain.Status(status)
	if lastSent != nil {
		ts := lastSent.UTC()
		r.LastSentAt = &ts
	}
	return &r, nil
}

func (s *Store) SetAlert(ctx context.Context, domainName string, status domain.Status, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (domain, last_status, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (domain)
		DO UPDATE SET last_status=EXCLUDED.last_status,
		              last_sent_at=COALESCE(EXCLUDED.last_sent_at, alerts.last_sent_at)
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		u := sentAt.UTC()
		ts = &u
	}
	if _, err := s.pool.Exec(ctx, q, domainName, string(status), ts); err != nil {
		return fmt.Errorf("set alert: %w", err)
	}
	return nil
}
