package observability

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/benz9527/xavl/lib/tree"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	res := make(map[string]metricdata.Metrics, 32)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			res[m.Name] = m
		}
	}
	return res
}

func int64Points(t *testing.T, m metricdata.Metrics) []metricdata.DataPoint[int64] {
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		return data.DataPoints
	case metricdata.Gauge[int64]:
		return data.DataPoints
	default:
	}
	require.FailNowf(t, "unexpected aggregation", "metric %s: %T", m.Name, m.Data)
	return nil
}

func TestRegisterOrderedSetStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		require.NoError(t, mp.Shutdown(context.Background()))
	}()

	set, err := tree.NewOrderedSet[int](tree.LockFreeBST, tree.WithLockFreeStats())
	require.NoError(t, err)
	for key := 0; key < 10; key++ {
		require.True(t, set.Insert(key))
	}
	require.True(t, set.Delete(3))
	require.True(t, set.Search(4))

	reg, err := RegisterOrderedSetStats(mp, "test", set.Kind(), set.(tree.StatsReporter))
	require.NoError(t, err)

	metrics := collectMetrics(t, reader)
	inserts := int64Points(t, metrics["xavl.set.inserts"])
	require.Len(t, inserts, 1)
	require.Equal(t, int64(10), inserts[0].Value)
	kind, ok := inserts[0].Attributes.Value(attribute.Key("kind"))
	require.True(t, ok)
	require.Equal(t, "lockfree", kind.AsString())

	require.Equal(t, int64(1), int64Points(t, metrics["xavl.set.deletes"])[0].Value)
	require.Equal(t, int64(1), int64Points(t, metrics["xavl.set.searches"])[0].Value)
	require.Equal(t, int64(1), int64Points(t, metrics["xavl.set.nodes.retired"])[0].Value)
	require.Len(t, int64Points(t, metrics["xavl.set.helps"]), 3)
	require.Contains(t, metrics, "xavl.set.epoch")

	require.NoError(t, reg.Unregister())
}

type fakeStatsReporter struct {
	calls atomic.Int64
}

func (r *fakeStatsReporter) Stats() tree.SetStats {
	n := r.calls.Add(1)
	return tree.SetStats{Inserts: uint64(n)}
}

func TestRegisterOrderedSetStats_ObservesOnCollect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	src := &fakeStatsReporter{}
	_, err := RegisterOrderedSetStats(mp, "", tree.CoarseAVL, src)
	require.NoError(t, err)
	require.Equal(t, int64(0), src.calls.Load())

	collectMetrics(t, reader)
	metrics := collectMetrics(t, reader)
	require.Equal(t, int64(2), src.calls.Load())
	require.Equal(t, int64(2), int64Points(t, metrics["xavl.set.inserts"])[0].Value)
}

func TestInitAppStats(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	defer otel.SetMeterProvider(prev)

	ctx, cancel := context.WithCancel(context.Background())
	var shutdown atomic.Bool
	InitAppStats(ctx, "test", func(ctx context.Context) error {
		shutdown.Store(true)
		return nil
	})

	metrics := collectMetrics(t, reader)
	goroutines := int64Points(t, metrics["app.core.goroutines"])
	require.Len(t, goroutines, 1)
	require.Greater(t, goroutines[0].Value, int64(0))
	rss := int64Points(t, metrics["app.core.memory.rss"])
	require.Len(t, rss, 1)
	require.Greater(t, rss[0].Value, int64(0))
	require.Contains(t, metrics, "app.core.processes")

	cancel()
	require.Eventually(t, shutdown.Load, time.Second, 10*time.Millisecond)
}

func TestParseMetricsExporterType(t *testing.T) {
	type testcase struct {
		in       string
		expected MetricsExporterType
		err      bool
	}
	testcases := []testcase{
		{in: "", expected: NoopMetricsExporter},
		{in: "none", expected: NoopMetricsExporter},
		{in: " Console ", expected: ConsoleMetricsExporter},
		{in: "stdout", expected: ConsoleMetricsExporter},
		{in: "prometheus", expected: PrometheusMetricsExporter},
		{in: "statsd", err: true},
	}
	for _, tc := range testcases {
		t.Run(tc.in, func(tt *testing.T) {
			typ, err := ParseMetricsExporterType(tc.in)
			if tc.err {
				require.ErrorIs(tt, err, ErrUnknownMetricsExporter)
				return
			}
			require.NoError(tt, err)
			require.Equal(tt, tc.expected, typ)
		})
	}
	require.Equal(t, "console", ConsoleMetricsExporter.String())
	require.Equal(t, "prometheus", PrometheusMetricsExporter.String())
	require.Equal(t, "none", NoopMetricsExporter.String())

	shutdown, err := NewMetricsExporter(NoopMetricsExporter, time.Second)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	_, err = NewMetricsExporter(MetricsExporterType(9), time.Second)
	require.ErrorIs(t, err, ErrUnknownMetricsExporter)
}
