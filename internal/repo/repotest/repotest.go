// Package repotest holds a behavioural test suite shared by every storage
// adapter.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

type Store interface {
	repo.DomainStore
	repo.CheckStore
	repo.ResultStore
	repo.AlertStore
}

// Run exercises s. newName must return a domain name unique to this run so
// the suite can share a database with earlier runs.
func Run(t *testing.T, s Store, newName func() string) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, s, newName()) })
	t.Run("CreateRequiresActiveCheck", func(t *testing.T) { testCreateRequiresActive(t, s, newName()) })
	t.Run("StaleAndActiveFilters", func(t *testing.T) { testFilters(t, s, newName()) })
	t.Run("SaveCheckGroup", func(t *testing.T) { testSaveGroup(t, s, newName()) })
	t.Run("TallyWindow", func(t *testing.T) { testTally(t, s, newName()) })
	t.Run("Timeline", func(t *testing.T) { testTimeline(t, s, newName()) })
	t.Run("DeleteCascades", func(t *testing.T) { testDelete(t, s, newName()) })
	t.Run("Alerts", func(t *testing.T) { testAlerts(t, s, newName()) })
}

func intp(i int) *int           { return &i }
func floatp(f float64) *float64 { return &f }

func seed(t *testing.T, s Store, name, owner string, checks ...domain.Check) (*domain.Domain, []domain.Check) {
	t.Helper()
	d := &domain.Domain{Name: name, Owner: owner}
	if err := s.CreateDomain(context.Background(), d, checks); err != nil {
		t.Fatalf("CreateDomain(%s): %v", name, err)
	}
	if d.ID == 0 {
		t.Fatalf("expected domain ID to be set")
	}
	for _, c := range checks {
		if c.ID == 0 {
			t.Fatalf("expected check IDs to be set: %+v", checks)
		}
	}
	return d, checks
}

func check(path string, active bool) domain.Check {
	return domain.Check{Path: path, Protocol: domain.ProtocolHTTPS, Method: domain.MethodGet, Active: active}
}

func appendAt(t *testing.T, s Store, id domain.CheckID, at time.Time, code *int) {
	t.Helper()
	r := &domain.ProbeResult{CheckID: id, CheckedOn: at, StatusCode: code, ResponseTime: floatp(0.05)}
	if err := s.Append(context.Background(), r); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func testCreateAndGet(t *testing.T, s Store, name string) {
	ctx := context.Background()
	d, checks := seed(t, s, name, "alice", check("/", true), check("/health", false))

	got, err := s.GetDomain(ctx, name)
	if err != nil {
		t.Fatalf("GetDomain: %v", err)
	}
	if got.ID != d.ID || got.Owner != "alice" {
		t.Fatalf("unexpected domain: %+v", got)
	}

	c, err := s.GetCheck(ctx, checks[1].ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if c.DomainName != name || c.Path != "/health" || c.Active {
		t.Fatalf("unexpected check: %+v", c)
	}
	if c.URL() != "https://"+name+"/health" {
		t.Fatalf("unexpected URL %q", c.URL())
	}

	if err := s.CreateDomain(ctx, &domain.Domain{Name: name, Owner: "bob"}, []domain.Check{check("/", true)}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if _, err := s.GetDomain(ctx, name+".missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.GetCheck(ctx, domain.CheckID(1<<40)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound for check, got %v", err)
	}
}

func testCreateRequiresActive(t *testing.T, s Store, name string) {
	ctx := context.Background()
	err := s.CreateDomain(ctx, &domain.Domain{Name: name, Owner: "alice"}, []domain.Check{check("/", false)})
	if !errors.Is(err, repo.ErrNoActiveCheck) {
		t.Fatalf("want ErrNoActiveCheck, got %v", err)
	}
	if _, err := s.GetDomain(ctx, name); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("rejected domain must not be stored, got %v", err)
	}
}

func testFilters(t *testing.T, s Store, name string) {
	ctx := context.Background()
	now := time.Now().UTC()
	_, checks := seed(t, s, name, "carol",
		check("/fresh", true),
		check("/old", true),
		check("/never", true),
		check("/off", false),
	)
	appendAt(t, s, checks[0].ID, now, intp(200))
	appendAt(t, s, checks[1].ID, now.Add(-2*time.Hour), intp(200))
	appendAt(t, s, checks[3].ID, now.Add(-2*time.Hour), intp(200))

	staleBefore := repo.StaleSince(now, repo.DefaultStaleCutoff)

	both, err := s.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true, StaleBefore: staleBefore})
	if err != nil {
		t.Fatalf("ListChecks: %v", err)
	}
	if paths(both) != "/never,/old" {
		t.Fatalf("active+stale: got %s", paths(both))
	}

	staleOnly, _ := s.ListChecks(ctx, repo.CheckFilter{Domain: name, StaleBefore: staleBefore})
	if paths(staleOnly) != "/never,/off,/old" {
		t.Fatalf("stale only: got %s", paths(staleOnly))
	}

	activeOnly, _ := s.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true})
	if paths(activeOnly) != "/fresh,/never,/old" {
		t.Fatalf("active only: got %s", paths(activeOnly))
	}

	byOwner, _ := s.ListChecks(ctx, repo.CheckFilter{Owner: "carol", Domain: name})
	if len(byOwner) != 4 {
		t.Fatalf("owner filter: got %d", len(byOwner))
	}
	other, _ := s.ListChecks(ctx, repo.CheckFilter{Owner: "nobody", Domain: name})
	if len(other) != 0 {
		t.Fatalf("owner filter should exclude: got %d", len(other))
	}

	names, err := s.ActiveDomains(ctx)
	if err != nil {
		t.Fatalf("ActiveDomains: %v", err)
	}
	if !contains(names, name) {
		t.Fatalf("ActiveDomains missing %s: %v", name, names)
	}
}

func testSaveGroup(t *testing.T, s Store, name string) {
	ctx := context.Background()
	_, checks := seed(t, s, name, "dave", check("/a", true), check("/b", true))

	// Drop /b from the group and add /c: /b must be deactivated, not deleted.
	edited := []domain.Check{checks[0], check("/c", true)}
	out, err := s.SaveCheckGroup(ctx, name, edited)
	if err != nil {
		t.Fatalf("SaveCheckGroup: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("want 3 checks after edit, got %d", len(out))
	}
	active, _ := s.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true})
	if paths(active) != "/a,/c" {
		t.Fatalf("active after edit: %s", paths(active))
	}
	b, err := s.GetCheck(ctx, checks[1].ID)
	if err != nil || b.Active {
		t.Fatalf("dropped check should remain inactive: %+v err=%v", b, err)
	}

	// Deactivating everything is rejected and leaves state untouched.
	off := []domain.Check{checks[0]}
	off[0].Active = false
	if _, err := s.SaveCheckGroup(ctx, name, off); !errors.Is(err, repo.ErrNoActiveCheck) {
		t.Fatalf("want ErrNoActiveCheck, got %v", err)
	}
	still, _ := s.ListChecks(ctx, repo.CheckFilter{Domain: name, ActiveOnly: true})
	if paths(still) != "/a,/c" {
		t.Fatalf("rejected edit changed state: %s", paths(still))
	}

	if _, err := s.SaveCheckGroup(ctx, name+".missing", edited); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testTally(t *testing.T, s Store, name string) {
	ctx := context.Background()
	now := time.Now().UTC()
	_, checks := seed(t, s, name, "erin", check("/up", true), check("/down", true), check("/quiet", true))
	up, down, quiet := checks[0].ID, checks[1].ID, checks[2].ID

	appendAt(t, s, up, now.Add(-time.Minute), intp(200))
	appendAt(t, s, up, now.Add(-2*time.Minute), intp(204))
	appendAt(t, s, up, now.Add(-3*time.Minute), intp(301))
	appendAt(t, s, up, now.Add(-3*time.Hour), intp(200)) // outside window
	appendAt(t, s, down, now.Add(-time.Minute), nil)
	appendAt(t, s, down, now.Add(-time.Minute), intp(500))

	got, err := s.Tally(ctx, []domain.CheckID{up, down, quiet}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Tally: %v", err)
	}
	if got[up] != (domain.Tally{Pings: 3, Successes: 2}) {
		t.Fatalf("up tally: %+v", got[up])
	}
	if got[down] != (domain.Tally{Pings: 2, Successes: 0}) {
		t.Fatalf("down tally: %+v", got[down])
	}
	if got[quiet] != (domain.Tally{}) {
		t.Fatalf("quiet tally: %+v", got[quiet])
	}
}

func testTimeline(t *testing.T, s Store, name string) {
	ctx := context.Background()
	base := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	_, checks := seed(t, s, name, "frank", check("/", true))
	id := checks[0].ID

	for i := 0; i < 5; i++ {
		appendAt(t, s, id, base.Add(time.Duration(i)*time.Minute), intp(200+i))
	}
	appendAt(t, s, id, base.Add(-time.Hour), nil)

	q := repo.TimelineQuery{CheckID: id, Start: base, End: base.Add(4 * time.Minute), Limit: 2}
	rows, total, err := s.Timeline(ctx, q)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if total != 5 || len(rows) != 2 {
		t.Fatalf("want total=5 rows=2, got total=%d rows=%d", total, len(rows))
	}
	if !rows[0].CheckedOn.Equal(base.Add(4*time.Minute)) || *rows[0].StatusCode != 204 {
		t.Fatalf("newest first violated: %+v", rows[0])
	}
	if rows[0].ResponseTime == nil {
		t.Fatalf("response time lost")
	}

	q.Offset = 4
	rows, _, err = s.Timeline(ctx, q)
	if err != nil {
		t.Fatalf("Timeline page: %v", err)
	}
	if len(rows) != 1 || !rows[0].CheckedOn.Equal(base) {
		t.Fatalf("last page wrong: %+v", rows)
	}

	q.Offset = -3
	rows, _, err = s.Timeline(ctx, q)
	if err != nil {
		t.Fatalf("Timeline negative offset: %v", err)
	}
	if len(rows) != 2 || !rows[0].CheckedOn.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("negative offset should read from the first row: %+v", rows)
	}

	q = repo.TimelineQuery{CheckID: id, Start: base.Add(-2 * time.Hour), End: base.Add(-30 * time.Minute)}
	rows, _, _ = s.Timeline(ctx, q)
	if len(rows) != 1 || rows[0].StatusCode != nil {
		t.Fatalf("null status should round-trip: %+v", rows)
	}
}

func testDelete(t *testing.T, s Store, name string) {
	ctx := context.Background()
	_, checks := seed(t, s, name, "gina", check("/", true))
	appendAt(t, s, checks[0].ID, time.Now(), intp(200))

	if err := s.DeleteDomain(ctx, name); err != nil {
		t.Fatalf("DeleteDomain: %v", err)
	}
	if _, err := s.GetCheck(ctx, checks[0].ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("check should be gone, got %v", err)
	}
	if err := s.DeleteDomain(ctx, name); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
	err := s.Append(ctx, &domain.ProbeResult{CheckID: checks[0].ID, CheckedOn: time.Now()})
	if err == nil {
		t.Fatalf("append to deleted check should fail")
	}
}

func testAlerts(t *testing.T, s Store, name string) {
	ctx := context.Background()
	rec, err := s.GetAlert(ctx, name)
	if err != nil || rec != nil {
		t.Fatalf("expected nil, got %+v err=%v", rec, err)
	}
	if err := s.SetAlert(ctx, name, domain.StatusGood, time.Time{}); err != nil {
		t.Fatalf("SetAlert: %v", err)
	}
	rec, err = s.GetAlert(ctx, name)
	if err != nil || rec == nil || rec.LastStatus != domain.StatusGood || rec.LastSentAt != nil {
		t.Fatalf("unexpected: %+v err=%v", rec, err)
	}

	sent := time.Now().UTC().Truncate(time.Second)
	if err := s.SetAlert(ctx, name, domain.StatusPoor, sent); err != nil {
		t.Fatalf("SetAlert sent: %v", err)
	}
	if err := s.SetAlert(ctx, name, domain.StatusFair, time.Time{}); err != nil {
		t.Fatalf("SetAlert keep: %v", err)
	}
	rec, _ = s.GetAlert(ctx, name)
	if rec == nil || rec.LastStatus != domain.StatusFair || rec.LastSentAt == nil || !rec.LastSentAt.Equal(sent) {
		t.Fatalf("send time should be kept: %+v", rec)
	}
}

func paths(cs []domain.Check) string {
	out := ""
	for i, c := range cs {
		if i > 0 {
			out += ","
		}
		out += c.Path
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
