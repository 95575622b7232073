// Command checkdomains probes due checks from cron or by hand.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/statuspage/internal/probe"
	"github.com/hamed0406/statuspage/internal/repo"
	"github.com/hamed0406/statuspage/internal/repo/backend"
	"github.com/hamed0406/statuspage/internal/scheduler"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = path.Base(os.Args[0])
	cliApp.Usage = "Pings configured domain checks for their current status"
	cliApp.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:  "minutes",
			Usage: "checks with no result newer than this are due",
			Value: 5,
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "per-probe timeout in seconds",
			Value: 10,
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "postgres://..., sqlite://path or empty for memory",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "print every check as it runs",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "max domains probed at once by dispatch (0 = unlimited)",
			Value: 8,
		},
	}
	cliApp.Commands = []*cli.Command{
		{
			Name:  "run",
			Usage: "probe every due check one after another",
			Action: withApp(func(c *cli.Context, a *app) error {
				_, err := a.refresh(c.Context)
				return err
			}),
		},
		{
			Name:  "dispatch",
			Usage: "probe due checks, one goroutine per domain",
			Action: withApp(func(c *cli.Context, a *app) error {
				rep, err := a.dispatcher.Dispatch(c.Context, a.cutoff, a.timeout)
				fmt.Fprintf(a.out, "%d domain(s), %d check(s) probed, %d domain(s) failed\n", rep.Domains, rep.Probed, rep.Failed)
				return err
			}),
		},
		{
			Name:      "domain",
			Usage:     "probe the due checks of a single domain",
			ArgsUsage: "NAME",
			Action: withApp(func(c *cli.Context, a *app) error {
				name := c.Args().First()
				if name == "" {
					return cli.Exit("domain name required", 2)
				}
				n, err := a.dispatcher.DispatchDomain(c.Context, name, a.cutoff, a.timeout)
				fmt.Fprintf(a.out, "%s: %d check(s) probed\n", name, n)
				return err
			}),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	out        io.Writer
	log        *zap.Logger
	checks     repo.CheckStore
	prober     scheduler.Prober
	dispatcher *scheduler.Dispatcher
	cutoff     time.Duration
	timeout    time.Duration
	verbose    bool
}

func withApp(fn func(c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		level := zapcore.WarnLevel
		if c.Bool("verbose") {
			level = zapcore.DebugLevel
		}
		log, err := newConsoleLogger(level)
		if err != nil {
			return err
		}
		defer log.Sync()

		store, _, err := backend.Open(c.Context, c.String("database-url"), log)
		if err != nil {
			return err
		}
		defer store.Close()

		exec := probe.NewExecutor(store, log)
		a := &app{
			out:        c.App.Writer,
			log:        log,
			checks:     store,
			prober:     exec,
			dispatcher: scheduler.NewDispatcher(log, store, exec, c.Int("concurrency")),
			cutoff:     time.Duration(c.Int("minutes")) * time.Minute,
			timeout:    time.Duration(c.Int("timeout")) * time.Second,
			verbose:    c.Bool("verbose"),
		}
		return fn(c, a)
	}
}

func newConsoleLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// refresh probes every active stale check across all domains sequentially.
// Probe failures are recorded as results; a check that errors is logged and
// skipped so the rest still run. The printed count covers stored results.
func (a *app) refresh(ctx context.Context) (int, error) {
	fmt.Fprintln(a.out, "Refreshing domain statuses")
	due, err := a.checks.ListChecks(ctx, repo.CheckFilter{
		ActiveOnly:  true,
		StaleBefore: repo.StaleSince(time.Now().UTC(), a.cutoff),
	})
	if err != nil {
		return 0, err
	}
	var (
		count int
		errs  error
	)
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if a.verbose {
			fmt.Fprintf(a.out, "Running check %s %s\n", c.Method.HTTP(), c.URL())
		}
		if _, err := a.prober.Run(ctx, c, a.timeout); err != nil {
			a.log.Warn("refresh_check_error",
				zap.Int64("check_id", int64(c.ID)),
				zap.String("url", c.URL()),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("check %d: %w", c.ID, err))
			continue
		}
		count++
	}
	noun := "statuses"
	if count == 1 {
		noun = "status"
	}
	fmt.Fprintf(a.out, "%d domain %s updated\n", count, noun)
	return count, errs
}
