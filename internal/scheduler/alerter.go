package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/statuspage/internal/domain"
	"github.com/hamed0406/statuspage/internal/repo"
	"github.com/hamed0406/statuspage/internal/status"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
}

// DomainLister is the part of status.Aggregator the alerter reads.
type DomainLister interface {
	Domains(ctx context.Context, owner string, ref time.Time) ([]status.DomainStatus, error)
}

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Alerter watches aggregate domain status and notifies when a domain drops
// into the poor band or leaves it.
type Alerter struct {
	logger   *zap.Logger
	statuses DomainLister
	alertDB  repo.AlertStore
	notifier Notifier
	cfg      AlerterConfig
	now      func() time.Time
}

func NewAlerter(logger *zap.Logger, statuses DomainLister, alertDB repo.AlertStore, notifier Notifier, cfg AlerterConfig) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		logger:   logger,
		statuses: statuses,
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	if a.cfg.PollInterval <= 0 {
		a.logger.Info("alerter_disabled")
		return nil
	}
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	// initial pass
	a.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.scan(ctx)
		}
	}
}

func (a *Alerter) scan(ctx context.Context) {
	if err := a.scanOnce(ctx); err != nil {
		a.logger.Warn("alerter_scan_error", zap.Error(err))
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	now := a.now().UTC()
	rows, err := a.statuses.Domains(ctx, "", now)
	if err != nil {
		return err
	}

	var errs error
	for _, ds := range rows {
		// No data in the window tells us nothing about the site.
		if ds.Status == domain.StatusUnknown {
			continue
		}
		rec, err := a.alertDB.GetAlert(ctx, ds.Domain)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		wasPoor := rec != nil && rec.LastStatus == domain.StatusPoor
		isPoor := ds.Status == domain.StatusPoor
		changed := rec == nil || rec.LastStatus != ds.Status

		cooled := true
		if rec != nil && rec.LastSentAt != nil {
			cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
		}

		downAlert := isPoor && !wasPoor && cooled
		recoveryAlert := wasPoor && !isPoor && a.cfg.AlertOnRecovery // bypass cooldown

		if downAlert || recoveryAlert {
			title := "🔴 Domain status POOR"
			if recoveryAlert {
				title = "🟢 Domain RECOVERED"
			}
			if err := a.notifier.Send(ctx, title, describe(ds, now)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", ds.Domain, err))
			}
			a.logger.Info("alert_sent",
				zap.String("domain", ds.Domain),
				zap.String("status", string(ds.Status)),
				zap.Bool("recovery", recoveryAlert),
			)
			errs = multierr.Append(errs, a.alertDB.SetAlert(ctx, ds.Domain, ds.Status, now))
			continue
		}

		// Record the new status without a send time (within cooldown, or
		// recovery alerts disabled).
		if changed {
			errs = multierr.Append(errs, a.alertDB.SetAlert(ctx, ds.Domain, ds.Status, time.Time{}))
		}
	}
	return errs
}

func describe(ds status.DomainStatus, now time.Time) string {
	rate := "n/a"
	if ds.SuccessRate != nil {
		rate = fmt.Sprintf("%.1f%%", *ds.SuccessRate)
	}
	return fmt.Sprintf(
		"Domain: %s\nStatus: %s\nSuccess: %d/%d (%s)\nChecks: %d\nAt: %s",
		ds.Domain, ds.Status, ds.Successes, ds.Pings, rate, ds.Checks, now.Format(time.RFC3339),
	)
}
