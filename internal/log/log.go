// Package log provides the subsystem-leveled logger used across the
// node: named loggers, each independently leveled, sharing one output
// backend built atop log/slog.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// Level is a six-level scheme plus Off, widened with a Trace level
// below slog's Debug and a Critical level above Error.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

const (
	slogLevelTrace    slog.Level = -8
	slogLevelCritical slog.Level = 12
)

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelTrace:
		return slogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slogLevelCritical
	default:
		return slog.Level(1 << 20)
	}
}

// LevelFromString parses a level name, defaulting to LevelInfo on an
// unrecognized string.
func LevelFromString(s string) (Level, bool) {
	switch s {
	case "trace", "trc":
		return LevelTrace, true
	case "debug", "dbg":
		return LevelDebug, true
	case "info", "inf":
		return LevelInfo, true
	case "warn", "wrn":
		return LevelWarn, true
	case "error", "err":
		return LevelError, true
	case "critical", "crt":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	default:
		return LevelInfo, false
	}
}

var (
	mu        sync.Mutex
	levelVars = map[string]*slog.LevelVar{}
	defaultLvl = LevelInfo

	// handler filtering is disabled (set to the lowest possible level);
	// each Logger enforces its own subsystem level in log() below so
	// SetLevel can raise or lower a single subsystem independently.
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevelTrace})
)

// Logger is a named subsystem's handle onto the shared backend.
type Logger struct {
	subsystem string
	levelVar  *slog.LevelVar
	inner     *slog.Logger
}

// Subsystem returns (creating if necessary) the named subsystem's
// logger. Two calls with the same name return loggers that share one
// level (the subsystem's) and the same output backend.
func Subsystem(name string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	lv, ok := levelVars[name]
	if !ok {
		lv = new(slog.LevelVar)
		lv.Set(defaultLvl.toSlog())
		levelVars[name] = lv
	}
	return &Logger{
		subsystem: name,
		levelVar:  lv,
		inner:     slog.New(handler).With("subsystem", name),
	}
}

// SetLevel adjusts the named subsystem's level. A subsystem not yet
// created by Subsystem is remembered so a later Subsystem call honors
// it.
func SetLevel(name string, level Level) {
	mu.Lock()
	defer mu.Unlock()
	lv, ok := levelVars[name]
	if !ok {
		lv = new(slog.LevelVar)
		levelVars[name] = lv
	}
	lv.Set(level.toSlog())
}

// SetDefaultLevel changes the level newly-created subsystems start at.
func SetDefaultLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	defaultLvl = level
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if level < l.levelVar.Level() {
		return
	}
	l.inner.Log(context.Background(), level, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(slogLevelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(slog.LevelError, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(slogLevelCritical, msg, args...) }
