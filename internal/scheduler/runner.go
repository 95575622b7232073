package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Runner is the periodic job that drives the dispatcher.
type Runner struct {
	Logger     *zap.Logger
	Dispatcher *Dispatcher
	Interval   time.Duration
	Cutoff     time.Duration
	Timeout    time.Duration
	// Jitter spreads runs by up to Interval*Jitter.
	Jitter float64
}

// Run dispatches immediately, then every Interval after the previous run
// finished, until ctx is cancelled. A zero Interval disables it.
func (r *Runner) Run(ctx context.Context) {
	if r.Interval <= 0 {
		r.Logger.Info("runner_disabled")
		return
	}
	r.Logger.Info("runner_started",
		zap.Duration("interval", r.Interval),
		zap.Duration("cutoff", r.Cutoff),
		zap.Duration("timeout", r.Timeout),
	)
	wait.JitterUntilWithContext(ctx, func(ctx context.Context) {
		if _, err := r.Dispatcher.Dispatch(ctx, r.Cutoff, r.Timeout); err != nil {
			r.Logger.Warn("dispatch_error", zap.Error(err))
		}
	}, r.Interval, r.Jitter, true)
	r.Logger.Info("runner_stopped")
}
