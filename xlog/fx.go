package xlog

import (
	"time"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var _ fxevent.Logger = (*FxXLogger)(nil)

// FxXLogger prints the fx application events. Every finished step is
// a debug line, or an error line if it failed. The events of the
// options the checker never uses, such as fx.Replace and fx.Decorate,
// are dropped together with the executing halves of the hooks.
type FxXLogger struct {
	logger XLogger
}

func NewFxXLogger(logger XLogger) *FxXLogger {
	return &FxXLogger{logger: NewComponentXLogger(logger, "Fx")}
}

func (l *FxXLogger) LogEvent(event fxevent.Event) {
	if l == nil || l.logger == nil {
		return
	}
	switch e := event.(type) {
	case *fxevent.LoggerInitialized:
		l.step(e.Err, "logger initialized", zap.String("constructor", e.ConstructorName))
	case *fxevent.Supplied:
		l.step(e.Err, "supplied", zap.String("type", e.TypeName))
	case *fxevent.Provided:
		l.step(e.Err, "provided",
			zap.String("constructor", e.ConstructorName),
			zap.Strings("types", e.OutputTypeNames),
		)
	case *fxevent.Invoked:
		l.step(e.Err, "invoked", zap.String("function", e.FunctionName))
	case *fxevent.OnStartExecuted:
		l.step(e.Err, "start hook", hookFields(e.FunctionName, e.CallerName, e.Runtime)...)
	case *fxevent.OnStopExecuted:
		l.step(e.Err, "stop hook", hookFields(e.FunctionName, e.CallerName, e.Runtime)...)
	case *fxevent.Started:
		l.step(e.Err, "started")
	case *fxevent.Stopping:
		l.logger.Info("stopping", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.step(e.Err, "stopped")
	case *fxevent.RollingBack:
		l.logger.Warn("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.step(e.Err, "rolled back")
	default:
	}
}

func (l *FxXLogger) step(err error, msg string, fields ...zap.Field) {
	if err != nil {
		l.logger.Error(err, msg+" failed", fields...)
		return
	}
	l.logger.Debug(msg, fields...)
}

func hookFields(function, caller string, runtime time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("function", function),
		zap.String("caller", caller),
		zap.Duration("runtime", runtime),
	}
}
