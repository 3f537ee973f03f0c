package observability

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/benz9527/xavl/lib/tree"
)

var (
	once sync.Once
)

type appStats struct {
	ctx              context.Context
	shutdownCallback func(ctx context.Context) error
	goroutines       metric.Int64ObservableUpDownCounter
	processes        metric.Int64ObservableUpDownCounter
	rss              metric.Int64ObservableGauge
	cpu              metric.Float64ObservableGauge
}

func (stats *appStats) waitForShutdown() {
	if stats == nil || stats.shutdownCallback == nil {
		return
	}
	go func() {
		<-stats.ctx.Done()
		_ = stats.shutdownCallback(context.Background())
	}()
}

func meterName(prefix, name string) string {
	builder := &strings.Builder{}
	builder.WriteString(prefix)
	builder.Write([]byte("/"))
	if len(strings.TrimSpace(name)) > 0 {
		builder.WriteString(name)
	} else {
		builder.WriteString("default")
	}
	return builder.String()
}

// InitAppStats registers the process level metrics into the global
// meter provider once. The shutdown callback runs when ctx is done.
func InitAppStats(ctx context.Context, name string, shutdown func(ctx context.Context) error) {
	once.Do(func() {
		meter := otel.Meter(
			meterName("xavl/app", name),
			metric.WithInstrumentationVersion(otelruntime.Version()),
		)
		proc, procErr := process.NewProcess(int32(os.Getpid()))
		stats := &appStats{
			ctx:              ctx,
			shutdownCallback: shutdown,
			goroutines: lo.Must(meter.Int64ObservableUpDownCounter(
				"app.core.goroutines",
				metric.WithDescription(`The application goroutines' info.`),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					ob.Observe(int64(runtime.NumGoroutine()))
					return nil
				}),
			)),
			processes: lo.Must(meter.Int64ObservableUpDownCounter(
				"app.core.processes",
				metric.WithDescription(`The application processes' info.`),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					ob.Observe(int64(runtime.GOMAXPROCS(0)))
					return nil
				}),
			)),
			rss: lo.Must(meter.Int64ObservableGauge(
				"app.core.memory.rss",
				metric.WithDescription(`The application resident set size.`),
				metric.WithUnit("By"),
				metric.WithInt64Callback(func(ctx context.Context, ob metric.Int64Observer) error {
					if procErr != nil {
						return procErr
					}
					mem, err := proc.MemoryInfoWithContext(ctx)
					if err != nil {
						return err
					}
					ob.Observe(int64(mem.RSS))
					return nil
				}),
			)),
			cpu: lo.Must(meter.Float64ObservableGauge(
				"app.core.cpu.percent",
				metric.WithDescription(`The application CPU usage since the last observation.`),
				metric.WithFloat64Callback(func(ctx context.Context, ob metric.Float64Observer) error {
					if procErr != nil {
						return procErr
					}
					percent, err := proc.PercentWithContext(ctx, 0)
					if err != nil {
						return err
					}
					ob.Observe(percent)
					return nil
				}),
			)),
		}
		_ = otelruntime.Start()
		stats.waitForShutdown()
	})
}

// RegisterOrderedSetStats exports the counters of a set as
// observable instruments, attributed by the set kind. The provider
// defaults to the global one.
func RegisterOrderedSetStats(
	provider metric.MeterProvider,
	name string,
	kind tree.SetKind,
	src tree.StatsReporter,
) (metric.Registration, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName("xavl/set", name))
	counter := func(instrument, desc string) metric.Int64ObservableCounter {
		return lo.Must(meter.Int64ObservableCounter(instrument, metric.WithDescription(desc)))
	}
	var (
		inserts   = counter("xavl.set.inserts", "Successful inserts.")
		deletes   = counter("xavl.set.deletes", "Successful deletes.")
		searches  = counter("xavl.set.searches", "Searches.")
		retries   = counter("xavl.set.contention.retries", "Retries after a lost CAS.")
		aborts    = counter("xavl.set.nested.seek.aborts", "Delete restarts after an aborted successor seek.")
		helps     = counter("xavl.set.helps", "Operations completed on behalf of other goroutines.")
		failures  = counter("xavl.set.relocate.failures", "Relocations failed on a changed destination.")
		retired   = counter("xavl.set.nodes.retired", "Unlinked nodes waiting for the grace period.")
		reclaimed = counter("xavl.set.nodes.reclaimed", "Nodes returned to the arena.")
		epoch     = lo.Must(meter.Int64ObservableGauge("xavl.set.epoch", metric.WithDescription("Global reclamation epoch.")))
	)
	kindAttr := metric.WithAttributes(attribute.String("kind", kind.String()))
	helpAttr := func(op string) metric.ObserveOption {
		return metric.WithAttributes(attribute.String("kind", kind.String()), attribute.String("op", op))
	}
	return meter.RegisterCallback(func(ctx context.Context, ob metric.Observer) error {
		stats := src.Stats()
		ob.ObserveInt64(inserts, int64(stats.Inserts), kindAttr)
		ob.ObserveInt64(deletes, int64(stats.Deletes), kindAttr)
		ob.ObserveInt64(searches, int64(stats.Searches), kindAttr)
		ob.ObserveInt64(retries, int64(stats.ContentionRetries), kindAttr)
		ob.ObserveInt64(aborts, int64(stats.NestedSeekAborts), kindAttr)
		ob.ObserveInt64(helps, int64(stats.HelpInserts), helpAttr("insert"))
		ob.ObserveInt64(helps, int64(stats.HelpMarks), helpAttr("mark"))
		ob.ObserveInt64(helps, int64(stats.HelpRelocates), helpAttr("relocate"))
		ob.ObserveInt64(failures, int64(stats.RelocateFailures), kindAttr)
		ob.ObserveInt64(retired, int64(stats.Retired), kindAttr)
		ob.ObserveInt64(reclaimed, int64(stats.Reclaimed), kindAttr)
		ob.ObserveInt64(epoch, int64(stats.Epoch), kindAttr)
		return nil
	}, inserts, deletes, searches, retries, aborts, helps, failures, retired, reclaimed, epoch)
}
