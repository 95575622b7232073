package repo

import (
	"sort"
	"strings"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
)

const DefaultStaleCutoff = time.Hour

// CheckFilter composes independent predicates over checks. Zero values
// disable a predicate.
type CheckFilter struct {
	ActiveOnly bool
	// StaleBefore keeps checks with no result or whose latest result is
	// strictly older than this instant.
	StaleBefore time.Time
	Domain      string
	Owner       string
}

// StaleSince builds the StaleBefore bound for a cutoff measured back from ref.
func StaleSince(ref time.Time, cutoff time.Duration) time.Time {
	return ref.Add(-cutoff)
}

// Match applies the attribute predicates (active, domain, owner) to one
// check. StaleBefore depends on results and is applied by SelectStale.
func (f CheckFilter) Match(c domain.Check, owner string) bool {
	if f.ActiveOnly && !c.Active {
		return false
	}
	if f.Domain != "" && c.DomainName != f.Domain {
		return false
	}
	if f.Owner != "" && owner != f.Owner {
		return false
	}
	return true
}

// Where renders the filter as a SQL condition over checks aliased c and
// domains aliased d. bind registers an argument and returns its placeholder.
// An empty string means no condition.
func (f CheckFilter) Where(bind func(v any) string) string {
	var conds []string
	if f.ActiveOnly {
		conds = append(conds, "c.is_active")
	}
	if f.Domain != "" {
		conds = append(conds, "d.name = "+bind(f.Domain))
	}
	if f.Owner != "" {
		conds = append(conds, "d.owner = "+bind(f.Owner))
	}
	if !f.StaleBefore.IsZero() {
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM results r WHERE r.check_id = c.id AND r.checked_on >= "+bind(f.StaleBefore)+")")
	}
	return strings.Join(conds, " AND ")
}

// SelectStale returns the checks that have no entry in last or whose entry is
// strictly older than bound. A zero bound keeps every check. Input order is
// preserved.
func SelectStale(checks []domain.Check, last map[domain.CheckID]time.Time, bound time.Time) []domain.Check {
	if bound.IsZero() {
		return checks
	}
	out := make([]domain.Check, 0, len(checks))
	for _, c := range checks {
		ts, ok := last[c.ID]
		if !ok || ts.Before(bound) {
			out = append(out, c)
		}
	}
	return out
}

// SortChecks orders checks by domain name, then path, then ID.
func SortChecks(cs []domain.Check) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].DomainName != cs[j].DomainName {
			return cs[i].DomainName < cs[j].DomainName
		}
		if cs[i].Path != cs[j].Path {
			return cs[i].Path < cs[j].Path
		}
		return cs[i].ID < cs[j].ID
	})
}
