package repo

import (
	"context"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
)

// AlertRecord holds the last status seen for a domain and the last time a
// notification went out for it (used for cooldown).
type AlertRecord struct {
	Domain     string
	LastStatus domain.Status
	LastSentAt *time.Time
}

type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, domainName string) (*AlertRecord, error)
	// SetAlert upserts the record. A zero sentAt keeps the previous send time.
	SetAlert(ctx context.Context, domainName string, status domain.Status, sentAt time.Time) error
}
