package xlog

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// teeCore duplicates the entries into all of its cores. Unlike the
// zapcore tee it is an xLogCore, so a component logger can rewrap
// each member with its own encoder. The member settings are only
// read by WrapCore, the tee itself carries none.
type teeCore []xLogCore

var _ xLogCore = teeCore(nil)

func (tc teeCore) context() context.Context                                    { return nil }
func (tc teeCore) levelEncoder() zapcore.LevelEncoder                          { return nil }
func (tc teeCore) timeEncoder() zapcore.TimeEncoder                            { return nil }
func (tc teeCore) writeSyncer() zapcore.WriteSyncer                            { return nil }
func (tc teeCore) outEncoder() func(cfg zapcore.EncoderConfig) zapcore.Encoder { return nil }

// With drops back to the zapcore tee, the members return plain cores.
func (tc teeCore) With(fields []zap.Field) zapcore.Core {
	cores := make([]zapcore.Core, 0, len(tc))
	for _, core := range tc {
		cores = append(cores, core.With(fields))
	}
	return zapcore.NewTee(cores...)
}

// Level is the most verbose level of the members.
func (tc teeCore) Level() zapcore.Level {
	lvl := zapcore.InvalidLevel
	for _, core := range tc {
		lvl = min(lvl, zapcore.LevelOf(core))
	}
	return lvl
}

func (tc teeCore) Enabled(lvl zapcore.Level) bool {
	for _, core := range tc {
		if core.Enabled(lvl) {
			return true
		}
	}
	return false
}

func (tc teeCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	for _, core := range tc {
		ce = core.Check(ent, ce)
	}
	return ce
}

func (tc teeCore) Write(ent zapcore.Entry, fields []zap.Field) (err error) {
	for _, core := range tc {
		err = multierr.Append(err, core.Write(ent, fields))
	}
	return err
}

func (tc teeCore) Sync() (err error) {
	for _, core := range tc {
		err = multierr.Append(err, core.Sync())
	}
	return err
}

// rewrap wraps every member by WrapCore, each on a copy of cfg.
func (tc teeCore) rewrap(cfg *zapcore.EncoderConfig) (teeCore, error) {
	wrapped := make(teeCore, 0, len(tc))
	for _, core := range tc {
		memberCfg := *cfg
		c, err := WrapCore(core, &memberCfg)
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, c)
	}
	return wrapped, nil
}
