package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
)

// ---- test helpers ----

type recordingResults struct {
	mu   sync.Mutex
	rows []domain.ProbeResult
	err  error
}

func (r *recordingResults) Append(_ context.Context, res *domain.ProbeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, *res)
	return nil
}

func (r *recordingResults) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func checkFor(srvURL, path string, m domain.Method) domain.Check {
	return domain.Check{
		ID:         42,
		DomainName: strings.TrimPrefix(srvURL, "http://"),
		Path:       path,
		Protocol:   domain.ProtocolHTTP,
		Method:     m,
		Active:     true,
	}
}

func newExec(rs *recordingResults) *Executor {
	return NewExecutor(rs, zap.NewNop())
}

func assertNoResponse(t *testing.T, res domain.ProbeResult) {
	t.Helper()
	if res.StatusCode != nil {
		t.Fatalf("want nil status code, got %d", *res.StatusCode)
	}
	if res.ResponseBody != "" {
		t.Fatalf("want empty body, got %q", res.ResponseBody)
	}
	assertTimed(t, res)
}

func assertTimed(t *testing.T, res domain.ProbeResult) {
	t.Helper()
	if res.CheckedOn.IsZero() {
		t.Fatalf("checked_on must be set")
	}
	if res.ResponseTime == nil || *res.ResponseTime < 0 {
		t.Fatalf("response_time must be set and >= 0, got %v", res.ResponseTime)
	}
}

// ---- tests ----

func TestRun_StatusOKStoresBody(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	}))
	defer s.Close()

	rs := &recordingResults{}
	res, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), 2*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StatusCode == nil || *res.StatusCode != 200 || res.ResponseBody != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertTimed(t, res)
	if rs.count() != 1 || rs.rows[0].CheckID != 42 {
		t.Fatalf("want exactly one stored row for check 42, got %+v", rs.rows)
	}
}

func TestRun_ErrorStatusIsAResult(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 503)
	}))
	defer s.Close()

	rs := &recordingResults{}
	res, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), 2*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StatusCode == nil || *res.StatusCode != 503 {
		t.Fatalf("want 503, got %+v", res)
	}
	if res.ResponseBody != "boom\n" {
		t.Fatalf("want error body kept, got %q", res.ResponseBody)
	}
	if rs.count() != 1 {
		t.Fatalf("want one stored row, got %d", rs.count())
	}
}

func TestRun_DoesNotFollowRedirects(t *testing.T) {
	var followed int32
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&followed, 1)
		w.WriteHeader(200)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	rs := &recordingResults{}
	res, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/old", domain.MethodGet), 2*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StatusCode == nil || *res.StatusCode != http.StatusFound {
		t.Fatalf("want 302 recorded, got %+v", res)
	}
	if atomic.LoadInt32(&followed) != 0 {
		t.Fatalf("redirect target must not be requested")
	}
}

func TestRun_UsesCheckMethod(t *testing.T) {
	methods := make(chan string, 1)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		w.WriteHeader(204)
	}))
	defer s.Close()

	rs := &recordingResults{}
	if _, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodPost), time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := <-methods; got != http.MethodPost {
		t.Fatalf("want POST, got %q", got)
	}
}

func TestRun_TimeoutRecordsNullStatus(t *testing.T) {
	// Server waits longer than the probe timeout.
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(200)
	}))
	defer s.Close()

	rs := &recordingResults{}
	start := time.Now()
	res, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("timeouts must not propagate: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("probe did not respect its timeout")
	}
	assertNoResponse(t, res)
	if rs.count() != 1 {
		t.Fatalf("timeout must still store one row, got %d", rs.count())
	}
}

func TestRun_ConnectionRefusedRecordsNullStatus(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u := s.URL
	s.Close()

	rs := &recordingResults{}
	exec := newExec(rs)
	exec.DNSDiagnostics = true
	res, err := exec.Run(context.Background(), checkFor(u, "/", domain.MethodGet), time.Second)
	if err != nil {
		t.Fatalf("network errors must not propagate: %v", err)
	}
	assertNoResponse(t, res)
	if rs.count() != 1 {
		t.Fatalf("want one stored row, got %d", rs.count())
	}
}

func TestRun_MalformedCheckPropagates(t *testing.T) {
	rs := &recordingResults{}
	c := checkFor("http://127.0.0.1:1", "/", "patch")
	if _, err := newExec(rs).Run(context.Background(), c, time.Second); err == nil {
		t.Fatalf("want error for unsupported method")
	}
	if rs.count() != 0 {
		t.Fatalf("nothing should be stored for a malformed check")
	}
}

func TestRun_StorageErrorPropagates(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer s.Close()

	boom := errors.New("disk full")
	rs := &recordingResults{err: boom}
	_, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("want storage error, got %v", err)
	}
}

func TestRun_CancelledCallerStoresNothing(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rs := &recordingResults{}
	if _, err := newExec(rs).Run(ctx, checkFor(s.URL, "/", domain.MethodGet), time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if rs.count() != 0 {
		t.Fatalf("cancelled probe must not be stored")
	}
}

func TestRun_BodyIsCapped(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer s.Close()

	rs := &recordingResults{}
	exec := newExec(rs)
	exec.MaxBodyBytes = 5
	res, err := exec.Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ResponseBody != "hello" {
		t.Fatalf("want capped body, got %q", res.ResponseBody)
	}
}

func TestRun_BinaryBodyIsStoredAsText(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\x00\xff\xfe"))
	}))
	defer s.Close()

	rs := &recordingResults{}
	res, err := newExec(rs).Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertText(t, res.ResponseBody)
	if res.ResponseBody != "ok\uFFFD" {
		t.Fatalf("want NUL dropped and invalid bytes replaced, got %q", res.ResponseBody)
	}
	if rs.count() != 1 {
		t.Fatalf("want one stored row, got %d", rs.count())
	}
}

func TestRun_CapInsideRuneKeepsValidUTF8(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a\u00e9"))
	}))
	defer s.Close()

	exec := newExec(&recordingResults{})
	exec.MaxBodyBytes = 2
	res, err := exec.Run(context.Background(), checkFor(s.URL, "/", domain.MethodGet), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertText(t, res.ResponseBody)
	if res.ResponseBody != "a\uFFFD" {
		t.Fatalf("want truncated rune replaced, got %q", res.ResponseBody)
	}
}

func assertText(t *testing.T, body string) {
	t.Helper()
	if !utf8.ValidString(body) {
		t.Fatalf("body is not valid UTF-8: %q", body)
	}
	if strings.ContainsRune(body, 0) {
		t.Fatalf("body contains NUL: %q", body)
	}
}

func TestReason(t *testing.T) {
	if Reason(context.DeadlineExceeded) != "timeout" {
		t.Fatalf("deadline should classify as timeout")
	}
	if Reason(errors.New("connection refused")) != "network" {
		t.Fatalf("plain error should classify as network")
	}
}

func TestCheckDNS_IPLiteralResolves(t *testing.T) {
	st := CheckDNS(context.Background(), "127.0.0.1:8080")
	if st.Class != DNSResolves || st.Host != "127.0.0.1" {
		t.Fatalf("unexpected DNS status: %+v", st)
	}
	if CheckDNS(context.Background(), "").Class != DNSInvalidName {
		t.Fatalf("empty host should be invalid")
	}
}
