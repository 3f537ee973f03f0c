package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benz9527/xavl/lib/tree"
	"github.com/benz9527/xavl/observability"
	"github.com/benz9527/xavl/workload"
	"github.com/benz9527/xavl/xlog"
)

type CLI struct {
	LogLevel        string        `name:"log-level" env:"XLOG_LVL" default:"INFO" help:"Log level, one of DEBUG, INFO, WARN and ERROR."`
	Metrics         string        `name:"metrics" env:"XAVL_METRICS" default:"none" enum:"none,console,prometheus" help:"Metrics exporter."`
	MetricsListen   string        `name:"metrics-listen" env:"XAVL_METRICS_LISTEN" default:":9464" help:"Prometheus scrape listen address."`
	MetricsInterval time.Duration `name:"metrics-interval" default:"10s" help:"Console metrics export interval."`

	Check checkCmd `cmd:"" default:"1" help:"Run the workload scenarios against the ordered sets."`
	Dump  dumpCmd  `cmd:"" help:"Insert keys into an ordered set and print its preorder dump."`
}

type checkCmd struct {
	Threads    int      `name:"threads" env:"XAVL_THREADS" default:"8" help:"Goroutines of the concurrent scenarios."`
	ThreadSize int      `name:"thread-size" env:"XAVL_THREAD_SIZE" default:"100" help:"Keys owned by every goroutine."`
	Kinds      []string `name:"kind" default:"coarse,serial,lockfree" help:"Ordered set kinds to check."`
	Scenarios  []string `name:"scenario" help:"Run only the named scenarios."`
	Stats      bool     `name:"stats" default:"true" negatable:"" help:"Collect the lock-free set counters."`
}

type dumpCmd struct {
	Kind      string `name:"kind" default:"lockfree" enum:"coarse,serial,lockfree" help:"Ordered set kind."`
	Rebalance bool   `name:"rebalance" help:"Rebalance the set before dumping, if it supports it."`
	Keys      []int  `arg:"" optional:"" help:"Keys to insert, 20 12 53 0 21 17 82 73 15 2 if absent."`

	out io.Writer
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("xavl"),
		kong.Description("Concurrent ordered sets checker."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func newXLogger(lc fx.Lifecycle, cli *CLI) (xlog.XLogger, error) {
	lvl, err := xlog.ParseLogLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := xlog.NewXLogger(
		xlog.WithXLoggerLevel(lvl),
		xlog.WithXLoggerEncoder(xlog.PlainText),
		xlog.WithXLoggerStdOutWriter(),
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func newPool(lc fx.Lifecycle, cmd *checkCmd, logger xlog.XLogger) (*ants.Pool, error) {
	pool, err := ants.NewPool(cmd.Threads,
		ants.WithPreAlloc(true),
		ants.WithLogger(xlog.NewAntsXLogger(logger)),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pool.ReleaseTimeout(5 * time.Second)
		},
	})
	return pool, nil
}

func newMetricsExporter(lc fx.Lifecycle, cli *CLI, logger xlog.XLogger) (observability.MetricsExporterType, error) {
	typ, err := observability.ParseMetricsExporterType(cli.Metrics)
	if err != nil {
		return typ, err
	}
	shutdown, err := observability.NewMetricsExporter(typ, cli.MetricsInterval)
	if err != nil {
		return typ, err
	}
	var srv *http.Server
	if typ == observability.PrometheusMetricsExporter {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              cli.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			observability.InitAppStats(context.Background(), "xavl", nil)
			if srv == nil {
				return nil
			}
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error(err, "metrics server stopped")
				}
			}()
			logger.Info("metrics served", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var err error
			if srv != nil {
				err = srv.Shutdown(ctx)
			}
			return multierr.Append(err, shutdown(ctx))
		},
	})
	return typ, nil
}

func newRunner(
	cmd *checkCmd,
	pool *ants.Pool,
	logger xlog.XLogger,
	typ observability.MetricsExporterType,
) (*workload.Runner, error) {
	opts := []workload.RunnerOption{
		workload.WithRunnerXLogger(logger),
		workload.WithRunnerThreads(cmd.Threads),
		workload.WithRunnerThreadSize(cmd.ThreadSize),
		workload.WithRunnerSetOptions(tree.WithXLogger(logger)),
	}
	if cmd.Stats {
		opts = append(opts, workload.WithRunnerSetOptions(tree.WithLockFreeStats()))
	}
	if typ != observability.NoopMetricsExporter {
		opts = append(opts, workload.WithRunnerSetObserver(setStatsObserver(nil, logger)))
	}
	return workload.NewRunner(pool, opts...)
}

// setStatsObserver exports the counters of every set supporting them
// while its scenario runs.
func setStatsObserver(provider metric.MeterProvider, logger xlog.XLogger) workload.SetObserver {
	return func(scenario string, set tree.OrderedSet[int]) func() {
		src, ok := set.(tree.StatsReporter)
		if !ok {
			return nil
		}
		reg, err := observability.RegisterOrderedSetStats(provider, scenario, set.Kind(), src)
		if err != nil {
			logger.Error(err, "register ordered set stats", zap.String("scenario", scenario))
			return nil
		}
		return func() {
			if err := reg.Unregister(); err != nil {
				logger.Warn("unregister ordered set stats", zap.String("scenario", scenario), zap.Error(err))
			}
		}
	}
}

func (cmd *checkCmd) kinds() ([]tree.SetKind, error) {
	var err error
	kinds := make([]tree.SetKind, 0, len(cmd.Kinds))
	for _, name := range lo.Uniq(cmd.Kinds) {
		kind, parseErr := tree.ParseSetKind(name)
		if parseErr != nil {
			err = multierr.Append(err, parseErr)
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds, err
}

func (cmd *checkCmd) Run(cli *CLI) error {
	kinds, err := cmd.kinds()
	if err != nil {
		return err
	}
	var (
		runner *workload.Runner
		logger xlog.XLogger
	)
	app := fx.New(
		fx.Supply(cli, cmd),
		fx.Provide(newXLogger, newPool, newMetricsExporter, newRunner),
		fx.WithLogger(func(logger xlog.XLogger) fxevent.Logger {
			return xlog.NewFxXLogger(logger)
		}),
		fx.Populate(&runner, &logger),
	)
	if err = app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err = app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *workload.Report
	if len(cmd.Scenarios) == 0 {
		report, err = runner.Run(ctx, kinds...)
	} else {
		report, err = cmd.runScenarios(ctx, runner, kinds)
	}
	if err != nil {
		return err
	}
	logger.Info("check finished",
		zap.Int("passed", report.Passed()),
		zap.Int("failed", len(report.Failed())),
	)
	return report.Err()
}

func (cmd *checkCmd) runScenarios(ctx context.Context, runner *workload.Runner, kinds []tree.SetKind) (*workload.Report, error) {
	scenarios := make([]workload.Scenario, 0, len(cmd.Scenarios))
	for _, name := range cmd.Scenarios {
		sc, ok := workload.ScenarioByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		scenarios = append(scenarios, sc)
	}
	report := &workload.Report{}
	for _, kind := range kinds {
		for _, sc := range scenarios {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Results = append(report.Results, runner.RunScenario(kind, sc))
		}
	}
	return report, nil
}

func (cmd *dumpCmd) Run(cli *CLI) error {
	kind, err := tree.ParseSetKind(cmd.Kind)
	if err != nil {
		return err
	}
	lvl, err := xlog.ParseLogLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logger := xlog.NewXLogger(xlog.WithXLoggerLevel(lvl), xlog.WithXLoggerEncoder(xlog.PlainText))
	defer func() {
		_ = logger.Sync()
	}()

	set, err := tree.NewOrderedSet[int](kind, tree.WithXLogger(logger))
	if err != nil {
		return err
	}
	keys := cmd.Keys
	if len(keys) == 0 {
		keys = []int{20, 12, 53, 0, 21, 17, 82, 73, 15, 2}
	}
	for _, key := range keys {
		if !set.Insert(key) {
			logger.Warn("duplicated key", zap.Int("key", key))
		}
	}
	if rb, ok := set.(tree.Rebalancer); ok && cmd.Rebalance {
		if err = rb.Rebalance(); err != nil {
			return err
		}
	}
	if err = tree.Validate[int](set); err != nil {
		return err
	}
	out := cmd.out
	if out == nil {
		out = os.Stdout
	}
	return set.PreorderDump(out)
}
