// Package status computes rolling-window health for checks and domains. It
// reads straight from storage on every call; nothing is cached.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

const DefaultWindow = time.Hour

type CheckStatus struct {
	Check domain.Check `json:"check"`
	domain.Summary
}

type DomainStatus struct {
	Domain string `json:"domain"`
	Checks int    `json:"checks"`
	domain.Summary
}

type Aggregator struct {
	Checks  repo.CheckStore
	Results repo.ResultStore
	Window  time.Duration
}

func New(checks repo.CheckStore, results repo.ResultStore, window time.Duration) *Aggregator {
	return &Aggregator{Checks: checks, Results: results, Window: window}
}

func (a *Aggregator) since(ref time.Time) time.Time {
	w := a.Window
	if w <= 0 {
		w = DefaultWindow
	}
	return ref.Add(-w)
}

// CheckStatus summarizes one check's results inside the window ending at ref.
func (a *Aggregator) CheckStatus(ctx context.Context, c domain.Check, ref time.Time) (domain.Summary, error) {
	t, err := a.Results.Tally(ctx, []domain.CheckID{c.ID}, a.since(ref))
	if err != nil {
		return domain.Summary{}, fmt.Errorf("tally check %d: %w", c.ID, err)
	}
	return t[c.ID].Summary(), nil
}

// DomainChecks returns every active check of the domain with its own
// summary, ordered by path. An empty result means nothing active.
func (a *Aggregator) DomainChecks(ctx context.Context, name string, ref time.Time) ([]CheckStatus, error) {
	checks, err := a.Checks.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	tallies, err := a.Results.Tally(ctx, ids(checks), a.since(ref))
	if err != nil {
		return nil, fmt.Errorf("tally domain %s: %w", name, err)
	}
	out := make([]CheckStatus, 0, len(checks))
	for _, c := range checks {
		out = append(out, CheckStatus{Check: c, Summary: tallies[c.ID].Summary()})
	}
	return out, nil
}

// Domains returns one row per domain owned by owner (all owners when
// empty). Pings and successes are summed across the domain's active checks
// before the status bands are applied.
func (a *Aggregator) Domains(ctx context.Context, owner string, ref time.Time) ([]DomainStatus, error) {
	checks, err := a.Checks.ListChecks(ctx, repo.CheckFilter{Owner: owner, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	tallies, err := a.Results.Tally(ctx, ids(checks), a.since(ref))
	if err != nil {
		return nil, fmt.Errorf("tally domains: %w", err)
	}
	return rollup(checks, tallies), nil
}

// Domain returns the aggregate row for a single domain. ok is false when the
// domain has no active checks.
func (a *Aggregator) Domain(ctx context.Context, name string, ref time.Time) (DomainStatus, bool, error) {
	checks, err := a.Checks.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true})
	if err != nil {
		return DomainStatus{}, false, err
	}
	if len(checks) == 0 {
		return DomainStatus{Domain: name, Summary: domain.Tally{}.Summary()}, false, nil
	}
	tallies, err := a.Results.Tally(ctx, ids(checks), a.since(ref))
	if err != nil {
		return DomainStatus{}, false, fmt.Errorf("tally domain %s: %w", name, err)
	}
	return rollup(checks, tallies)[0], true, nil
}

// rollup expects checks grouped by domain name, as ListChecks returns them.
func rollup(checks []domain.Check, tallies map[domain.CheckID]domain.Tally) []DomainStatus {
	out := []DomainStatus{}
	var (
		cur   string
		sum   domain.Tally
		count int
	)
	flush := func() {
		if count > 0 {
			out = append(out, DomainStatus{Domain: cur, Checks: count, Summary: sum.Summary()})
		}
	}
	for _, c := range checks {
		if c.DomainName != cur {
			flush()
			cur, sum, count = c.DomainName, domain.Tally{}, 0
		}
		sum = sum.Add(tallies[c.ID])
		count++
	}
	flush()
	return out
}

func ids(checks []domain.Check) []domain.CheckID {
	out := make([]domain.CheckID, len(checks))
	for i, c := range checks {
		out[i] = c.ID
	}
	return out
}
