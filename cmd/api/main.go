package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/statuspage/internal/config"
	"github.com/hamed0406/statuspage/internal/httpapi"
	apimw "github.com/hamed0406/statuspage/internal/httpapi/middleware"
	"github.com/hamed0406/statuspage/internal/logging"
	"github.com/hamed0406/statuspage/internal/notify"
	"github.com/hamed0406/statuspage/internal/probe"
	"github.com/hamed0406/statuspage/internal/repo/backend"
	"github.com/hamed0406/statuspage/internal/scheduler"
	"github.com/hamed0406/statuspage/internal/status"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		_ = logger.Sync()
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, kind, err := backend.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store_opened", zap.String("kind", kind))

	exec := probe.NewExecutor(store, logger)
	exec.MaxBodyBytes = cfg.MaxBodyBytes
	exec.DNSDiagnostics = true

	disp := scheduler.NewDispatcher(logger, store, exec, cfg.MaxConcurrentDomains)
	agg := status.New(store, store, cfg.StatusWindow)

	api := httpapi.NewServer(logger, store, store, store, agg, disp, httpapi.Options{
		Keys: apimw.Keys{
			Public: cfg.PublicAPIKeys,
			Admin:  cfg.AdminAPIKeys,
			Owners: cfg.OwnerAPIKeys,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		PublicRPM:      cfg.PublicRPM,
		PublicBurst:    cfg.PublicBurst,
		AdminRPM:       cfg.AdminRPM,
		AdminBurst:     cfg.AdminBurst,
		StaleCutoff:    cfg.StaleCutoff,
		ProbeTimeout:   cfg.ProbeTimeout,
		PageSize:       cfg.TimelinePageSize,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	runner := &scheduler.Runner{
		Logger:     logger,
		Dispatcher: disp,
		Interval:   cfg.DispatchInterval,
		Cutoff:     cfg.StaleCutoff,
		Timeout:    cfg.ProbeTimeout,
		Jitter:     0.1,
	}
	g.Go(func() error {
		runner.Run(ctx)
		return nil
	})

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if s := notify.NewSlack(cfg.SlackWebhookURL); s != nil {
		notifiers = append(notifiers, s)
	}
	alerter := scheduler.NewAlerter(logger, agg, store, notifiers, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
		PollInterval:    cfg.AlertPoll,
	})
	g.Go(func() error {
		if err := alerter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("api_shutdown")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
