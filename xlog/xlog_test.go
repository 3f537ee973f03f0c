package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/benz9527/xavl/lib/infra"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]map[string]any, 0, 8)
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if len(line) == 0 {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		res = append(res, m)
	}
	return res
}

func withTestMemWriter(t *testing.T) (XLoggerOption, *syncBuffer) {
	buf := &syncBuffer{}
	prev := setOutWriterByType(testMemAsOut, buf)
	t.Cleanup(func() {
		setOutWriterByType(testMemAsOut, prev)
	})
	return func(cfg *loggerCfg) error {
		w := testMemAsOut
		cfg.writerType = &w
		return nil
	}, buf
}

func TestXLogger_LevelAndOutput(t *testing.T) {
	memOut, buf := withTestMemWriter(t)
	logger := NewXLogger(
		memOut,
		WithXLoggerLevel(LogLevelInfo),
		WithXLoggerEncoder(JSON),
		WithXLoggerTimeEncoder(zapcore.ISO8601TimeEncoder),
		WithXLoggerLevelEncoder(zapcore.CapitalLevelEncoder),
	)
	require.Equal(t, "info", logger.Level())

	logger.Debug("invisible")
	logger.Info("hello", zap.Int("keys", 10))
	logger.IncreaseLogLevel(zapcore.DebugLevel)
	logger.Debug("visible")
	logger.Logf(zapcore.WarnLevel, "format %d", 7)
	require.NoError(t, logger.Sync())

	lines := buf.lines(t)
	require.Len(t, lines, 3)
	require.Equal(t, "hello", lines[0]["msg"])
	require.Equal(t, "INFO", lines[0]["lvl"])
	require.Equal(t, float64(10), lines[0]["keys"])
	require.Contains(t, lines[0]["callAt"], "xlog_test.go")
	require.Equal(t, "visible", lines[1]["msg"])
	require.Equal(t, "format 7", lines[2]["msg"])
	require.Equal(t, "WARN", lines[2]["lvl"])
}

func TestXLogger_ErrorStack(t *testing.T) {
	memOut, buf := withTestMemWriter(t)
	logger := NewXLogger(memOut, WithXLoggerLevel(LogLevelDebug))

	sentinel := errors.New("[x-avl] order violation")
	err := multierr.Combine(
		infra.WrapErrorStackWithMessage(sentinel, "key 3"),
		errors.New("plain"),
	)
	logger.ErrorStack(err, "validate failed")
	logger.Error(sentinel, "plain error")
	logger.ErrorStackf(errors.New("no stack"), "failed %s", "again")

	lines := buf.lines(t)
	require.Len(t, lines, 3)
	require.Equal(t, "validate failed", lines[0]["msg"])
	require.Equal(t, "key 3: [x-avl] order violation", lines[0]["error"])
	require.NotEmpty(t, lines[0]["errorStack"])
	require.Len(t, lines[0]["errors"], 2)
	require.Equal(t, sentinel.Error(), lines[1]["error"])
	require.Equal(t, "failed again", lines[2]["msg"])
	require.Equal(t, "no stack", lines[2]["error"])
}

func TestXLogger_ContextFields(t *testing.T) {
	memOut, buf := withTestMemWriter(t)
	logger := NewXLogger(
		memOut,
		WithXLoggerLevel(LogLevelDebug),
		WithXLoggerContextFieldExtract("variant"),
		WithXLoggerContextFieldExtract("scenario", "case"),
		WithXLoggerContextFieldExtract("secret", ContextKeyMapToOmitempty),
	)
	ctx := context.WithValue(context.Background(), "variant", "lockfree")
	ctx = context.WithValue(ctx, "secret", "x")
	logger.InfoContext(ctx, "ctx")
	logger.ErrorContext(ctx, errors.New("bad"), "ctx error")

	lines := buf.lines(t)
	require.Len(t, lines, 2)
	require.Equal(t, "lockfree", lines[0]["variant"])
	require.Equal(t, "nil", lines[0]["case"])
	require.NotContains(t, lines[0], "secret")
	require.Equal(t, "bad", lines[1]["error"])
}

func TestXLogger_ComponentLoggers(t *testing.T) {
	memOut, buf := withTestMemWriter(t)
	parent := NewXLogger(memOut, WithXLoggerLevel(LogLevelDebug))

	var nilLogger *AntsXLogger
	nilLogger.Printf("ignored %d", 1)

	antsLogger := NewAntsXLogger(parent)
	p, err := ants.NewPool(2, ants.WithLogger(antsLogger))
	require.NoError(t, err)
	defer p.Release()
	done := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		defer close(done)
		panic("worker panic")
	}))
	<-done
	require.Eventually(t, func() bool {
		return len(buf.lines(t)) >= 1
	}, time.Second, 10*time.Millisecond)

	fxLogger := NewFxXLogger(parent)
	fxLogger.LogEvent(&fxevent.Started{})
	fxLogger.LogEvent(&fxevent.OnStopExecuted{FunctionName: "stop", Err: errors.New("stop failed")})

	parent.IncreaseLogLevel(zapcore.InfoLevel)
	fxLogger.LogEvent(&fxevent.Started{})

	lines := buf.lines(t)
	require.Len(t, lines, 3)
	require.Equal(t, "Ants", lines[0]["component"])
	require.Equal(t, "ERROR", lines[0]["lvl"])
	require.Contains(t, lines[0]["msg"], "worker panic")
	require.Equal(t, "Fx", lines[1]["component"])
	require.Equal(t, "started", lines[1]["msg"])
	require.Equal(t, "stop hook failed", lines[2]["msg"])
	require.Equal(t, "stop failed", lines[2]["error"])
}

func TestFxXLogger_Events(t *testing.T) {
	memOut, buf := withTestMemWriter(t)
	fxLogger := NewFxXLogger(NewXLogger(memOut, WithXLoggerLevel(LogLevelDebug)))

	var nilLogger *FxXLogger
	nilLogger.LogEvent(&fxevent.Started{})

	fxLogger.LogEvent(&fxevent.Provided{ConstructorName: "newPool", OutputTypeNames: []string{"*ants.Pool"}})
	fxLogger.LogEvent(&fxevent.Replaced{OutputTypeNames: []string{"*ants.Pool"}})
	fxLogger.LogEvent(&fxevent.Decorated{DecoratorName: "wrapPool"})
	fxLogger.LogEvent(&fxevent.OnStartExecuting{FunctionName: "start"})
	fxLogger.LogEvent(&fxevent.OnStartExecuted{FunctionName: "start", Runtime: time.Millisecond})
	fxLogger.LogEvent(&fxevent.Invoked{FunctionName: "populate", Err: errors.New("missing type")})

	lines := buf.lines(t)
	require.Len(t, lines, 3)
	require.Equal(t, "provided", lines[0]["msg"])
	require.Equal(t, "newPool", lines[0]["constructor"])
	require.Equal(t, []any{"*ants.Pool"}, lines[0]["types"])
	require.Equal(t, "start hook", lines[1]["msg"])
	require.Equal(t, "start", lines[1]["function"])
	require.Equal(t, "invoked failed", lines[2]["msg"])
	require.Equal(t, "missing type", lines[2]["error"])
}

func TestParseLogLevel(t *testing.T) {
	testcases := []struct {
		in      string
		want    logLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{" Info ", LogLevelInfo, false},
		{"WARN", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"trace", LogLevelDebug, true},
	}
	for _, tc := range testcases {
		lvl, err := ParseLogLevel(tc.in)
		if tc.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, lvl)
	}
	require.Equal(t, zapcore.WarnLevel, getLogLevelOrDefault("warn"))
	require.Equal(t, zapcore.DebugLevel, getLogLevelOrDefault(""))
}
