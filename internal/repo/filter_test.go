package repo

import (
	"testing"
	"time"

	"github.com/hamed0406/statuspage/internal/domain"
)

func TestSelectStale(t *testing.T) {
	ref := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	checks := []domain.Check{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	last := map[domain.CheckID]time.Time{
		1: ref,                     // fresh
		2: ref.Add(-2 * time.Hour), // old
		4: ref.Add(-time.Hour),     // exactly at the bound, not strictly older
	}

	got := SelectStale(checks, last, StaleSince(ref, DefaultStaleCutoff))
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("unexpected stale set: %+v", got)
	}
}

func TestSelectStale_NothingProbedYet(t *testing.T) {
	checks := []domain.Check{{ID: 7}, {ID: 8}}
	got := SelectStale(checks, nil, StaleSince(time.Now(), 10*time.Minute))
	if len(got) != 2 {
		t.Fatalf("never-probed checks must be stale, got %d", len(got))
	}
}

func TestSelectStale_ZeroBoundKeepsAll(t *testing.T) {
	ref := time.Now()
	checks := []domain.Check{{ID: 1}, {ID: 2}}
	last := map[domain.CheckID]time.Time{1: ref}
	if got := SelectStale(checks, last, time.Time{}); len(got) != 2 {
		t.Fatalf("zero bound should disable the filter, got %d", len(got))
	}
}

func TestCheckFilter_ComposesIndependently(t *testing.T) {
	ref := time.Now().UTC()
	active := domain.Check{ID: 1, DomainName: "a.example", Active: true}
	inactive := domain.Check{ID: 2, DomainName: "a.example", Active: false}
	stale := StaleSince(ref, DefaultStaleCutoff)

	cases := []struct {
		name string
		f    CheckFilter
		c    domain.Check
		last *time.Time
		want bool
	}{
		{"no filter", CheckFilter{}, inactive, timep(ref.Add(-time.Minute)), true},
		{"active only keeps active", CheckFilter{ActiveOnly: true}, active, timep(ref.Add(-time.Minute)), true},
		{"active only drops inactive", CheckFilter{ActiveOnly: true}, inactive, nil, false},
		{"stale only keeps inactive stale", CheckFilter{StaleBefore: stale}, inactive, timep(ref.Add(-3 * time.Hour)), true},
		{"stale only drops fresh", CheckFilter{StaleBefore: stale}, active, timep(ref.Add(-time.Minute)), false},
		{"stale keeps never probed", CheckFilter{StaleBefore: stale}, active, nil, true},
		{"both", CheckFilter{ActiveOnly: true, StaleBefore: stale}, active, timep(ref.Add(-3 * time.Hour)), true},
		{"both drops inactive", CheckFilter{ActiveOnly: true, StaleBefore: stale}, inactive, timep(ref.Add(-3 * time.Hour)), false},
		{"domain mismatch", CheckFilter{Domain: "b.example"}, active, nil, false},
		{"owner mismatch", CheckFilter{Owner: "bob"}, active, nil, false},
	}
	for _, c := range cases {
		var kept []domain.Check
		if c.f.Match(c.c, "alice") {
			last := map[domain.CheckID]time.Time{}
			if c.last != nil {
				last[c.c.ID] = *c.last
			}
			kept = SelectStale([]domain.Check{c.c}, last, c.f.StaleBefore)
		}
		if got := len(kept) == 1; got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func timep(t time.Time) *time.Time { return &t }

func TestCheckFilter_Where(t *testing.T) {
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return "?"
	}
	if got := (CheckFilter{}).Where(bind); got != "" {
		t.Fatalf("empty filter rendered %q", got)
	}

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := CheckFilter{ActiveOnly: true, Domain: "example.com", StaleBefore: cutoff}.Where(bind)
	want := "c.is_active AND d.name = ? AND NOT EXISTS (SELECT 1 FROM results r WHERE r.check_id = c.id AND r.checked_on >= ?)"
	if got != want {
		t.Fatalf("Where()=%q\nwant   %q", got, want)
	}
	if len(args) != 2 || args[0] != "example.com" || args[1] != cutoff {
		t.Fatalf("unexpected args: %v", args)
	}
}
