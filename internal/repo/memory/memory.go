package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

var (
	_ repo.DomainStore = (*Store)(nil)
	_ repo.CheckStore  = (*Store)(nil)
	_ repo.ResultStore = (*Store)(nil)
	_ repo.AlertStore  = (*Store)(nil)
)

// Store keeps everything in process memory. Used when DATABASE_URL is empty
// and in tests.
type Store struct {
	mu sync.RWMutex

	seqDomain int64
	seqCheck  int64
	seqResult int64

	domains map[string]*domain.Domain
	checks  map[domain.CheckID]*domain.Check
	results map[domain.CheckID][]domain.ProbeResult
	alerts  map[string]repo.AlertRecord
}

func New() *Store {
	return &Store{
		domains: make(map[string]*domain.Domain),
		checks:  make(map[domain.CheckID]*domain.Check),
		results: make(map[domain.CheckID][]domain.ProbeResult),
		alerts:  make(map[string]repo.AlertRecord),
	}
}

func (m *Store) Close() {}

// ---- DomainStore ----

func (m *Store) CreateDomain(ctx context.Context, d *domain.Domain, checks []domain.Check) error {
	if domain.CountActive(checks) == 0 {
		return repo.ErrNoActiveCheck
	}
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[d.Name]; ok {
		return fmt.Errorf("domain %q: %w", d.Name, repo.ErrDuplicate)
	}
	m.seqDomain++
	d.ID = domain.DomainID(m.seqDomain)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	m.domains[d.Name] = &cp

	for i := range checks {
		m.seqCheck++
		checks[i].ID = domain.CheckID(m.seqCheck)
		checks[i].DomainID = d.ID
		checks[i].DomainName = d.Name
		c := checks[i]
		m.checks[c.ID] = &c
	}
	return nil
}

func (m *Store) GetDomain(ctx context.Context, name string) (*domain.Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.domains[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Store) DeleteDomain(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[name]
	if !ok {
		return repo.ErrNotFound
	}
	for id, c := range m.checks {
		if c.DomainID == d.ID {
			delete(m.checks, id)
			delete(m.results, id)
		}
	}
	delete(m.domains, name)
	delete(m.alerts, name)
	return nil
}

// ---- CheckStore ----

func (m *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) ListChecks(ctx context.Context, f repo.CheckFilter) ([]domain.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Check, 0, len(m.checks))
	last := make(map[domain.CheckID]time.Time)
	for _, c := range m.checks {
		owner := ""
		if d := m.domains[c.DomainName]; d != nil {
			owner = d.Owner
		}
		if !f.Match(*c, owner) {
			continue
		}
		out = append(out, *c)
		if ts := m.lastLocked(c.ID); ts != nil {
			last[c.ID] = *ts
		}
	}
	out = repo.SelectStale(out, last, f.StaleBefore)
	repo.SortChecks(out)
	return out, nil
}

func (m *Store) lastLocked(id domain.CheckID) *time.Time {
	var last *time.Time
	for i := range m.results[id] {
		ts := m.results[id][i].CheckedOn
		if last == nil || ts.After(*last) {
			last = &ts
		}
	}
	return last
}

func (m *Store) SaveCheckGroup(ctx context.Context, domainName string, checks []domain.Check) ([]domain.Check, error) {
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[domainName]
	if !ok {
		return nil, repo.ErrNotFound
	}

	// Build the post-edit state first so a rejected edit leaves no trace.
	next := make(map[domain.CheckID]domain.Check)
	for id, c := range m.checks {
		if c.DomainID == d.ID {
			cp := *c
			cp.Active = false
			next[id] = cp
		}
	}
	var added []domain.Check
	for _, c := range checks {
		c.DomainID = d.ID
		c.DomainName = d.Name
		if c.ID == 0 {
			added = append(added, c)
			continue
		}
		if _, ok := next[c.ID]; !ok {
			return nil, fmt.Errorf("check %d: %w", c.ID, repo.ErrNotFound)
		}
		next[c.ID] = c
	}

	active := domain.CountActive(added)
	for _, c := range next {
		if c.Active {
			active++
		}
	}
	if active == 0 {
		return nil, repo.ErrNoActiveCheck
	}

	for id, c := range next {
		c := c
		m.checks[id] = &c
	}
	for _, c := range added {
		m.seqCheck++
		c.ID = domain.CheckID(m.seqCheck)
		cp := c
		m.checks[c.ID] = &cp
	}

	out := make([]domain.Check, 0, len(next)+len(added))
	for _, c := range m.checks {
		if c.DomainID == d.ID {
			out = append(out, *c)
		}
	}
	repo.SortChecks(out)
	return out, nil
}

func (m *Store) ActiveDomains(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, c := range m.checks {
		if c.Active {
			seen[c.DomainName] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ---- ResultStore ----

func (m *Store) Append(ctx context.Context, r *domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[r.CheckID]; !ok {
		return fmt.Errorf("insert result for check %d: %w", r.CheckID, repo.ErrNotFound)
	}
	if r.CheckedOn.IsZero() {
		r.CheckedOn = time.Now()
	}
	r.CheckedOn = r.CheckedOn.UTC()
	m.seqResult++
	r.ID = m.seqResult
	m.results[r.CheckID] = append(m.results[r.CheckID], *r)
	return nil
}

func (m *Store) Tally(ctx context.Context, ids []domain.CheckID, since time.Time) (map[domain.CheckID]domain.Tally, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.CheckID]domain.Tally, len(ids))
	for _, id := range ids {
		var t domain.Tally
		for _, r := range m.results[id] {
			if r.CheckedOn.Before(since) {
				continue
			}
			t.Pings++
			if r.Success() {
				t.Successes++
			}
		}
		out[id] = t
	}
	return out, nil
}

func (m *Store) Timeline(ctx context.Context, q repo.TimelineQuery) ([]domain.ProbeResult, int, error) {
	m.mu.RLock()
	var rows []domain.ProbeResult
	for _, r := range m.results[q.CheckID] {
		if r.CheckedOn.Before(q.Start) || r.CheckedOn.After(q.End) {
			continue
		}
		rows = append(rows, r)
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CheckedOn.Equal(rows[j].CheckedOn) {
			return rows[i].CheckedOn.After(rows[j].CheckedOn)
		}
		return rows[i].ID > rows[j].ID
	})
	total := len(rows)
	offset := max(q.Offset, 0)
	if offset >= total {
		return []domain.ProbeResult{}, total, nil
	}
	rows = rows[offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, total, nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, domainName string) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[domainName]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) SetAlert(ctx context.Context, domainName string, status domain.Status, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.alerts[domainName]
	rec.Domain = domainName
	rec.LastStatus = status
	if !sentAt.IsZero() {
		ts := sentAt.UTC()
		rec.LastSentAt = &ts
	}
	m.alerts[domainName] = rec
	return nil
}
