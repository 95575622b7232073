package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// ResultAppender is the slice of repo.ResultStore the executor writes to.
type ResultAppender interface {
	Append(ctx context.Context, r *domain.ProbeResult) error
}

// Executor runs a single HTTP probe for a check and stores the outcome.
type Executor struct {
	Client       *http.Client
	Results      ResultAppender
	Logger       *zap.Logger
	MaxBodyBytes int64
	// DNSDiagnostics logs a DNS classification of the host whenever a
	// probe gets no response.
	DNSDiagnostics bool

	now func() time.Time
}

func NewExecutor(results ResultAppender, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		Client:       NewClient(),
		Results:      results,
		Logger:       logger,
		MaxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
}

// NewClient returns a client that reports redirects instead of following
// them. Timeouts are applied per probe through the request context.
func NewClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Run probes check and persists exactly one result. Network failures and
// timeouts are recorded as a result with a nil status code and never
// returned. An error means the check itself is malformed, the caller's
// context was cancelled, or the result could not be stored.
func (e *Executor) Run(ctx context.Context, check domain.Check, timeout time.Duration) (domain.ProbeResult, error) {
	r, err := e.Probe(ctx, check, timeout)
	if err != nil {
		return r, err
	}
	if err := e.Results.Append(ctx, &r); err != nil {
		return r, fmt.Errorf("store result for check %d: %w", check.ID, err)
	}
	return r, nil
}

// Probe performs the request without storing anything.
func (e *Executor) Probe(ctx context.Context, check domain.Check, timeout time.Duration) (domain.ProbeResult, error) {
	if err := check.Validate(); err != nil {
		return domain.ProbeResult{}, err
	}
	target := check.URL()
	if _, err := url.ParseRequestURI(target); err != nil {
		return domain.ProbeResult{}, fmt.Errorf("check %d: %w", check.ID, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, check.Method.HTTP(), target, nil)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("check %d: build request: %w", check.ID, err)
	}

	nowFn := e.now
	if nowFn == nil {
		nowFn = time.Now
	}
	start := nowFn()
	res := domain.ProbeResult{CheckID: check.ID, CheckedOn: start.UTC()}

	code, body, perr := e.do(req)
	elapsed := nowFn().Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	res.ResponseTime = &elapsed

	if perr != nil {
		// A cancelled parent is a shutdown, not an observation of the site.
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		e.logFailure(ctx, check, perr, elapsed)
		return res, nil
	}
	res.StatusCode = &code
	res.ResponseBody = body
	e.Logger.Debug("probe_response",
		zap.Int64("check_id", int64(check.ID)),
		zap.String("url", target),
		zap.Int("status", code),
		zap.Float64("response_time", elapsed),
	)
	return res, nil
}

func (e *Executor) do(req *http.Request) (int, string, error) {
	client := e.Client
	if client == nil {
		client = NewClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, "", fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, textBody(b), nil
}

// textBody makes a response body storable as text. NUL bytes are dropped and
// invalid UTF-8, including a rune cut by the size cap, becomes U+FFFD.
func textBody(b []byte) string {
	return strings.ToValidUTF8(strings.ReplaceAll(string(b), "\x00", ""), "\uFFFD")
}

// Reason classifies a transport error for logging.
func Reason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	default:
		return "network"
	}
}

func (e *Executor) logFailure(ctx context.Context, check domain.Check, err error, elapsed float64) {
	fields := []zap.Field{
		zap.Int64("check_id", int64(check.ID)),
		zap.String("url", check.URL()),
		zap.String("reason", Reason(err)),
		zap.Float64("response_time", elapsed),
		zap.Error(err),
	}
	if e.DNSDiagnostics {
		dns := CheckDNS(ctx, check.DomainName)
		fields = append(fields,
			zap.String("dns_class", string(dns.Class)),
			zap.Strings("nameservers", dns.Nameservers),
			zap.String("cname", dns.CNAME),
			zap.String("resolver_error", dns.ResolverError),
		)
	}
	e.Logger.Info("probe_network_error", fields...)
}
