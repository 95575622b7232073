package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
	apimw "github.com/hamed0406/statuspage/internal/httpapi/middleware"
	"github.com/hamed0406/statuspage/internal/repo/memory"
	"github.com/hamed0406/statuspage/internal/scheduler"
	"github.com/hamed0406/statuspage/internal/status"
)

const (
	pubKey   = "pub_test"
	admKey   = "adm_test"
	aliceKey = "alice_test"
	bobKey   = "bob_test"
)

var ref = time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	calls  int
	cutoff time.Duration
	rep    scheduler.Report
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cutoff, _ time.Duration) (scheduler.Report, error) {
	f.calls++
	f.cutoff = cutoff
	return f.rep, nil
}

type fixture struct {
	store *memory.Store
	disp  *fakeDispatcher
	h     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	disp := &fakeDispatcher{rep: scheduler.Report{Domains: 2, Probed: 3}}
	srv := NewServer(zap.NewNop(), store, store, store, status.New(store, store, time.Hour), disp, Options{
		Keys: apimw.Keys{
			Public: []string{pubKey},
			Admin:  []string{admKey},
			Owners: map[string]string{"alice": aliceKey, "bob": bobKey},
		},
		StaleCutoff:  10 * time.Minute,
		ProbeTimeout: time.Second,
		PageSize:     2,
	})
	srv.now = func() time.Time { return ref }
	return &fixture{store: store, disp: disp, h: srv.Router()}
}

func (f *fixture) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

// seed creates alice.example with an active "/" check and an inactive "/old" check.
func (f *fixture) seed(t *testing.T) (active, inactive domain.CheckID) {
	t.Helper()
	checks := []domain.Check{
		{Path: "/", Protocol: domain.ProtocolHTTPS, Method: domain.MethodGet, Active: true},
		{Path: "/old", Protocol: domain.ProtocolHTTPS, Method: domain.MethodGet, Active: false},
	}
	d := &domain.Domain{Name: "alice.example", Owner: "alice"}
	if err := f.store.CreateDomain(context.Background(), d, checks); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return checks[0].ID, checks[1].ID
}

func (f *fixture) result(t *testing.T, id domain.CheckID, ago time.Duration, code int) {
	t.Helper()
	rt := 0.25
	r := &domain.ProbeResult{CheckID: id, CheckedOn: ref.Add(-ago), StatusCode: &code, ResponseTime: &rt}
	if err := f.store.Append(context.Background(), r); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateDomain_OK_Duplicate_Invalid(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"name":   "Example.com",
		"checks": []map[string]any{{"path": "/", "protocol": "https", "method": "get"}},
	}

	rec := f.do(t, http.MethodPost, "/api/domains", aliceKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Domain domain.Domain  `json:"domain"`
		Checks []domain.Check `json:"checks"`
	}
	decode(t, rec, &created)
	if created.Domain.Name != "example.com" || created.Domain.Owner != "alice" {
		t.Fatalf("unexpected domain: %+v", created.Domain)
	}
	if len(created.Checks) != 1 || created.Checks[0].ID == 0 || !created.Checks[0].Active {
		t.Fatalf("unexpected checks: %+v", created.Checks)
	}

	if rec := f.do(t, http.MethodPost, "/api/domains", aliceKey, body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: want 409, got %d", rec.Code)
	}

	bad := map[string]any{"name": "no", "checks": body["checks"]}
	if rec := f.do(t, http.MethodPost, "/api/domains", aliceKey, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("short name: want 400, got %d", rec.Code)
	}

	inactive := map[string]any{
		"name":   "idle.example",
		"checks": []map[string]any{{"path": "/", "is_active": false}},
	}
	rec = f.do(t, http.MethodPost, "/api/domains", aliceKey, inactive)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no active check: want 400, got %d", rec.Code)
	}

	badMethod := map[string]any{
		"name":   "verb.example",
		"checks": []map[string]any{{"path": "/", "method": "patch"}},
	}
	if rec := f.do(t, http.MethodPost, "/api/domains", aliceKey, badMethod); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad method: want 400, got %d", rec.Code)
	}
}

func TestCreateDomain_AccessControl(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"name": "example.com", "checks": []map[string]any{{"path": "/"}}}

	if rec := f.do(t, http.MethodPost, "/api/domains", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/domains", pubKey, body); rec.Code != http.StatusForbidden {
		t.Fatalf("public key: want 403, got %d", rec.Code)
	}

	body["owner"] = "carol"
	rec := f.do(t, http.MethodPost, "/api/domains", admKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin: want 201, got %d", rec.Code)
	}
	d, err := f.store.GetDomain(context.Background(), "example.com")
	if err != nil || d.Owner != "carol" {
		t.Fatalf("admin should set owner: %+v %v", d, err)
	}
}

func TestGetDomain_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	active, _ := f.seed(t)
	f.result(t, active, 5*time.Minute, 200)

	if rec := f.do(t, http.MethodGet, "/api/domains/alice.example", bobKey, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("other owner: want 403, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/domains/missing.example", aliceKey, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: want 404, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/domains/alice.example", aliceKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: want 200, got %d", rec.Code)
	}
	var view struct {
		Status struct {
			Status domain.Status `json:"status"`
			Pings  int           `json:"pings"`
		} `json:"status"`
		Checks []domain.Check `json:"checks"`
		Active []struct {
			Check domain.Check `json:"check"`
		} `json:"active_checks"`
	}
	decode(t, rec, &view)
	if len(view.Checks) != 2 || len(view.Active) != 1 {
		t.Fatalf("want 2 checks and 1 active, got %d and %d", len(view.Checks), len(view.Active))
	}
	if view.Status.Status != domain.StatusGood || view.Status.Pings != 1 {
		t.Fatalf("unexpected status: %+v", view.Status)
	}

	if rec := f.do(t, http.MethodGet, "/api/domains/alice.example", admKey, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin: want 200, got %d", rec.Code)
	}
}

func TestSaveChecks_GroupEdit(t *testing.T) {
	f := newFixture(t)
	active, inactive := f.seed(t)

	// Dropping every active check is rejected and changes nothing.
	only := map[string]any{"checks": []map[string]any{{"id": inactive, "path": "/old", "is_active": false}}}
	if rec := f.do(t, http.MethodPut, "/api/domains/alice.example/checks", aliceKey, only); rec.Code != http.StatusBadRequest {
		t.Fatalf("no active: want 400, got %d", rec.Code)
	}
	if c, _ := f.store.GetCheck(context.Background(), active); !c.Active {
		t.Fatal("rejected edit must leave the active check alone")
	}

	if rec := f.do(t, http.MethodPut, "/api/domains/alice.example/checks", bobKey, only); rec.Code != http.StatusForbidden {
		t.Fatalf("other owner: want 403, got %d", rec.Code)
	}

	edit := map[string]any{"checks": []map[string]any{
		{"id": inactive, "path": "/old", "is_active": true},
		{"path": "/health", "method": "head"},
	}}
	rec := f.do(t, http.MethodPut, "/api/domains/alice.example/checks", aliceKey, edit)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Checks []domain.Check `json:"checks"`
	}
	decode(t, rec, &out)
	if len(out.Checks) != 3 {
		t.Fatalf("want 3 checks after edit, got %d", len(out.Checks))
	}
	for _, c := range out.Checks {
		if c.ID == active && c.Active {
			t.Fatal("omitted check should be deactivated")
		}
	}
}

func TestDeleteDomain(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	if rec := f.do(t, http.MethodDelete, "/api/domains/alice.example", bobKey, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("other owner: want 403, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/domains/alice.example", aliceKey, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("owner: want 204, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/domains/alice.example", aliceKey, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("after delete: want 404, got %d", rec.Code)
	}
}

func TestStatusList_ScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	err := f.store.CreateDomain(context.Background(), &domain.Domain{Name: "bob.example", Owner: "bob"},
		[]domain.Check{{Path: "/", Protocol: domain.ProtocolHTTP, Method: domain.MethodGet, Active: true}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var out struct {
		Domains []struct {
			Domain string        `json:"domain"`
			Status domain.Status `json:"status"`
			Rate   *float64      `json:"success_rate"`
		} `json:"domains"`
	}
	rec := f.do(t, http.MethodGet, "/api/status", aliceKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	decode(t, rec, &out)
	if len(out.Domains) != 1 || out.Domains[0].Domain != "alice.example" {
		t.Fatalf("alice should only see her domain: %+v", out.Domains)
	}
	if out.Domains[0].Status != domain.StatusUnknown || out.Domains[0].Rate != nil {
		t.Fatalf("no pings should be unknown with null rate: %+v", out.Domains[0])
	}

	rec = f.do(t, http.MethodGet, "/api/status", admKey, nil)
	decode(t, rec, &out)
	if len(out.Domains) != 2 {
		t.Fatalf("admin should see all domains, got %d", len(out.Domains))
	}
}

func TestPublicStatus(t *testing.T) {
	f := newFixture(t)
	active, inactive := f.seed(t)
	for i := 0; i < 3; i++ {
		f.result(t, active, time.Duration(i+1)*time.Minute, 200)
	}
	f.result(t, active, 4*time.Minute, 500)
	f.result(t, active, 2*time.Hour, 500)   // outside the window
	f.result(t, inactive, time.Minute, 500) // inactive checks are ignored

	rec := f.do(t, http.MethodGet, "/api/status/alice.example", pubKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var out struct {
		Domain struct {
			Pings     int           `json:"pings"`
			Successes int           `json:"successes"`
			Rate      *float64      `json:"success_rate"`
			Status    domain.Status `json:"status"`
		} `json:"domain"`
		Checks []struct {
			Check  domain.Check  `json:"check"`
			Status domain.Status `json:"status"`
		} `json:"checks"`
	}
	decode(t, rec, &out)
	if out.Domain.Pings != 4 || out.Domain.Successes != 3 || out.Domain.Rate == nil || *out.Domain.Rate != 75 {
		t.Fatalf("unexpected aggregate: %+v", out.Domain)
	}
	if out.Domain.Status != domain.StatusFair {
		t.Fatalf("75%% should be fair, got %s", out.Domain.Status)
	}
	if len(out.Checks) != 1 || out.Checks[0].Check.ID != active {
		t.Fatalf("only the active check should be listed: %+v", out.Checks)
	}

	if rec := f.do(t, http.MethodGet, "/api/status/missing.example", pubKey, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing domain: want 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/status/alice.example", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", rec.Code)
	}
}

func TestTimeline(t *testing.T) {
	f := newFixture(t)
	active, inactive := f.seed(t)
	f.result(t, active, 30*time.Minute, 200)
	f.result(t, active, 20*time.Minute, 503)
	f.result(t, active, 10*time.Minute, 200)
	f.result(t, active, 48*time.Hour, 200) // outside the range

	failed := &domain.ProbeResult{CheckID: active, CheckedOn: ref.Add(-5 * time.Minute)}
	if err := f.store.Append(context.Background(), failed); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := func(id domain.CheckID, q string) string {
		return "/api/checks/" + strconv.FormatInt(int64(id), 10) + "/timeline" + q
	}
	rng := "?start=2025-08-18T11:00:00Z&end=2025-08-18T12:00:00Z"

	rec := f.do(t, http.MethodGet, path(active, rng), pubKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Results []struct {
			CheckedOn    string   `json:"checked_on"`
			StatusCode   *int     `json:"status_code"`
			ResponseTime *float64 `json:"response_time"`
		} `json:"results"`
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	}
	decode(t, rec, &out)
	if out.Total != 4 || out.PageSize != 2 || out.Page != 1 || len(out.Results) != 2 {
		t.Fatalf("unexpected page: total=%d size=%d page=%d n=%d", out.Total, out.PageSize, out.Page, len(out.Results))
	}
	if out.Results[0].CheckedOn != "2025-08-18T11:55:00.000Z" {
		t.Fatalf("newest first with Z suffix, got %q", out.Results[0].CheckedOn)
	}
	if out.Results[0].StatusCode != nil || out.Results[0].ResponseTime != nil {
		t.Fatal("a failed probe has null status_code and response_time")
	}
	if out.Results[1].StatusCode == nil || *out.Results[1].StatusCode != 200 {
		t.Fatalf("second row should be the 200 at 11:50: %+v", out.Results[1])
	}

	rec = f.do(t, http.MethodGet, path(active, rng+"&page=2"), pubKey, nil)
	decode(t, rec, &out)
	if len(out.Results) != 2 || out.Results[1].CheckedOn != "2025-08-18T11:30:00.000Z" {
		t.Fatalf("unexpected second page: %+v", out.Results)
	}

	bad := []string{
		"",
		"?start=2025-08-18T11:00:00Z",
		"?end=2025-08-18T11:00:00Z",
		"?start=yesterday&end=2025-08-18T11:00:00Z",
		"?start=2025-08-18T12:00:00Z&end=2025-08-18T11:00:00Z",
		"?start=2025-08-16T12:00:00Z&end=2025-08-18T11:00:00Z",
		rng + "&page=0",
		rng + "&page=x",
		rng + "&page=5000000000000000000",
		"?start=0001-01-01&end=0001-01-01T12:00:00Z",
		"?start=2300-01-01T00:00:00Z&end=2300-01-01T01:00:00Z",
	}
	for _, q := range bad {
		if rec := f.do(t, http.MethodGet, path(active, q), pubKey, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: want 400, got %d", q, rec.Code)
		}
	}

	exactDay := "?start=2025-08-17T12:00:00Z&end=2025-08-18T12:00:00Z"
	if rec := f.do(t, http.MethodGet, path(active, exactDay), pubKey, nil); rec.Code != http.StatusOK {
		t.Fatalf("exactly one day: want 200, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, path(inactive, rng), pubKey, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("inactive check: want 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, path(9999, rng), pubKey, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing check: want 404, got %d", rec.Code)
	}
}

func TestDispatch_AdminOnly(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodPost, "/api/dispatch", aliceKey, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("owner: want 403, got %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/dispatch", admKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: want 200, got %d", rec.Code)
	}
	var rep scheduler.Report
	decode(t, rec, &rep)
	if rep.Domains != 2 || rep.Probed != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if f.disp.calls != 1 || f.disp.cutoff != 10*time.Minute {
		t.Fatalf("dispatcher not called with configured cutoff: %+v", f.disp)
	}
}
