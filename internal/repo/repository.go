package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrNoActiveCheck = errors.New("a domain needs at least one active check")
)

// Ports (interfaces) implemented by the memory, postgres and sqlite adapters.
type DomainStore interface {
	// CreateDomain inserts the domain together with its initial check group.
	// IDs are written back into d and checks.
	CreateDomain(ctx context.Context, d *domain.Domain, checks []domain.Check) error
	GetDomain(ctx context.Context, name string) (*domain.Domain, error)
	DeleteDomain(ctx context.Context, name string) error
}

type CheckStore interface {
	GetCheck(ctx context.Context, id domain.CheckID) (*domain.Check, error)
	ListChecks(ctx context.Context, f CheckFilter) ([]domain.Check, error)
	// SaveCheckGroup applies a group edit: checks with ID 0 are inserted,
	// known IDs are updated and checks left out of the group are deactivated.
	SaveCheckGroup(ctx context.Context, domainName string, checks []domain.Check) ([]domain.Check, error)
	// ActiveDomains lists distinct domain names with at least one active check.
	ActiveDomains(ctx context.Context) ([]string, error)
}

type ResultStore interface {
	Append(ctx context.Context, r *domain.ProbeResult) error
	// Tally counts results per check with checked_on >= since.
	Tally(ctx context.Context, ids []domain.CheckID, since time.Time) (map[domain.CheckID]domain.Tally, error)
	Timeline(ctx context.Context, q TimelineQuery) ([]domain.ProbeResult, int, error)
}

// TimelineQuery selects results of one check with Start <= checked_on <= End,
// newest first.
type TimelineQuery struct {
	CheckID domain.CheckID
	Start   time.Time
	End     time.Time
	Limit   int
	Offset  int
}
