package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
)

// Prober runs and stores one probe. *probe.Executor implements it.
type Prober interface {
	Run(ctx context.Context, c domain.Check, timeout time.Duration) (domain.ProbeResult, error)
}

// Report summarizes one dispatch run.
type Report struct {
	Domains int `json:"domains"`
	Probed  int `json:"probed"`
	Failed  int `json:"failed_domains"`
}

type Dispatcher struct {
	Logger *zap.Logger
	Checks repo.CheckStore
	Prober Prober
	// Concurrency caps how many domains are dispatched at once; <= 0 means
	// one goroutine per domain.
	Concurrency int

	now func() time.Time
}

func NewDispatcher(logger *zap.Logger, checks repo.CheckStore, prober Prober, concurrency int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Logger:      logger,
		Checks:      checks,
		Prober:      prober,
		Concurrency: concurrency,
		now:         time.Now,
	}
}

func (d *Dispatcher) clock() time.Time {
	if d.now == nil {
		return time.Now().UTC()
	}
	return d.now().UTC()
}

// Dispatch runs DispatchDomain once for every domain that has an active
// check. Domains are independent: a failure or a slow probe in one never
// cancels or waits on another. Per-domain errors are combined.
func (d *Dispatcher) Dispatch(ctx context.Context, cutoff, timeout time.Duration) (Report, error) {
	names, err := d.Checks.ActiveDomains(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active domains: %w", err)
	}
	rep := Report{Domains: len(names)}
	if len(names) == 0 {
		return rep, nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}
	for _, name := range names {
		name := name
		g.Go(func() error {
			n, err := d.DispatchDomain(ctx, name, cutoff, timeout)
			mu.Lock()
			defer mu.Unlock()
			rep.Probed += n
			if err != nil {
				rep.Failed++
				errs = multierr.Append(errs, fmt.Errorf("domain %s: %w", name, err))
			}
			// Never fail the group; siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	d.Logger.Info("dispatch_completed",
		zap.Int("domains", rep.Domains),
		zap.Int("probed", rep.Probed),
		zap.Int("failed_domains", rep.Failed),
	)
	return rep, errs
}

// DispatchDomain probes the domain's active checks that have no result newer
// than cutoff, one after another, and returns how many were probed. A
// domain with nothing due is a no-op.
func (d *Dispatcher) DispatchDomain(ctx context.Context, name string, cutoff, timeout time.Duration) (int, error) {
	f := repo.CheckFilter{
		Domain:      name,
		ActiveOnly:  true,
		StaleBefore: repo.StaleSince(d.clock(), cutoff),
	}
	checks, err := d.Checks.ListChecks(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("select stale checks: %w", err)
	}

	var (
		probed int
		errs   error
	)
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if _, err := d.Prober.Run(ctx, c, timeout); err != nil {
			d.Logger.Warn("dispatch_probe_error",
				zap.String("domain", name),
				zap.Int64("check_id", int64(c.ID)),
				zap.String("url", c.URL()),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
			continue
		}
		probed++
	}

	d.Logger.Info("dispatch_domain_completed",
		zap.String("domain", name),
		zap.Int("checks", probed),
	)
	return probed, errs
}
