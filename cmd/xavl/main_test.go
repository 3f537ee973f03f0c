package main

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/benz9527/xavl/lib/tree"
	"github.com/benz9527/xavl/xlog"
)

func parseTestCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("xavl"), kong.Exit(func(int) {
		t.Fatalf("unexpected exit, args %v", args)
	}))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, ctx
}

func TestCheckCmd(t *testing.T) {
	cli, ctx := parseTestCLI(t,
		"--log-level", "error",
		"check",
		"--threads", "2",
		"--thread-size", "16",
		"--kind", "lockfree",
		"--kind", "coarse",
	)
	require.Equal(t, "check", ctx.Command())
	require.Equal(t, []string{"lockfree", "coarse"}, cli.Check.Kinds)
	kinds, err := cli.Check.kinds()
	require.NoError(t, err)
	require.Equal(t, []tree.SetKind{tree.LockFreeBST, tree.CoarseAVL}, kinds)
	require.NoError(t, ctx.Run(cli))
}

func TestCheckCmd_Scenarios(t *testing.T) {
	cli, ctx := parseTestCLI(t,
		"--log-level", "error",
		"check",
		"--threads", "2",
		"--thread-size", "8",
		"--kind", "serial",
		"--scenario", "fixed-keys-search",
		"--scenario", "concurrent-insert-delete-evens",
	)
	require.NoError(t, ctx.Run(cli))

	cli, ctx = parseTestCLI(t, "--log-level", "error", "check", "--scenario", "unknown")
	require.ErrorContains(t, ctx.Run(cli), `unknown scenario "unknown"`)
}

func TestCheckCmd_UnknownKind(t *testing.T) {
	cli, ctx := parseTestCLI(t, "check", "--kind", "rbtree")
	err := ctx.Run(cli)
	require.True(t, errors.Is(err, tree.ErrXAVLUnknownKind))
}

func TestDumpCmd(t *testing.T) {
	type testcase struct {
		name     string
		args     []string
		expected string
	}
	testcases := []testcase{
		{
			name:     "coarse fixed keys",
			args:     []string{"dump", "--kind", "coarse"},
			expected: "preorder\n20 12 0 2 17 15 53 21 82 73\n",
		},
		{
			name:     "lock-free ascending",
			args:     []string{"dump", "1", "2", "3"},
			expected: "preorder\n1 2 3\n",
		},
		{
			name:     "lock-free rebalanced",
			args:     []string{"dump", "--rebalance", "1", "2", "3", "4", "5", "6", "7"},
			expected: "preorder\n4 2 1 3 6 5 7\n",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			cli, ctx := parseTestCLI(tt, append([]string{"--log-level", "error"}, tc.args...)...)
			buf := &bytes.Buffer{}
			cli.Dump.out = buf
			require.NoError(tt, ctx.Run(cli))
			require.Equal(tt, tc.expected, buf.String())
		})
	}
}

type countingStatsSet struct {
	tree.OrderedSet[int]
	calls atomic.Int64
}

func (s *countingStatsSet) Stats() tree.SetStats {
	s.calls.Add(1)
	return s.OrderedSet.(tree.StatsReporter).Stats()
}

func TestSetStatsObserver(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		require.NoError(t, mp.Shutdown(context.Background()))
	}()
	collect := func() {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
	}
	observer := setStatsObserver(mp, xlog.NewXLogger(xlog.WithXLoggerLevel(xlog.LogLevelError)))

	coarse, err := tree.NewOrderedSet[int](tree.CoarseAVL)
	require.NoError(t, err)
	require.Nil(t, observer("coarse", coarse))

	lf, err := tree.NewOrderedSet[int](tree.LockFreeBST, tree.WithLockFreeStats())
	require.NoError(t, err)
	set := &countingStatsSet{OrderedSet: lf}
	done := observer("lockfree", set)
	require.NotNil(t, done)
	collect()
	require.Equal(t, int64(1), set.calls.Load())

	// The set is no longer observed once its scenario is done.
	done()
	collect()
	require.Equal(t, int64(1), set.calls.Load())
}
