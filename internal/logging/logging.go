// Package logging configures the process logger and bridges pion's leveled loggers onto
// slog so engine diagnostics share one output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pion/logging"
)

// ParseLevel maps a level name to an slog level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a text handler writing to w at the given level as the default logger
// and returns it.
func Setup(w io.Writer, level string) *slog.Logger {
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(l)
	return l
}

// PionFactory implements logging.LoggerFactory on top of an slog.Logger.
type PionFactory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = PionFactory{}

// NewPionFactory returns a factory writing to l, or to the default logger when l is nil.
func NewPionFactory(l *slog.Logger) PionFactory {
	if l == nil {
		l = slog.Default()
	}
	return PionFactory{Logger: l}
}

// NewLogger implements logging.LoggerFactory.
func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &pionLogger{l: l.With("scope", scope)}
}

type pionLogger struct {
	l *slog.Logger
}

// pion's trace output is very chatty, so it is folded into debug.
func (p *pionLogger) Trace(msg string) { p.l.Debug(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}
func (p *pionLogger) Debug(msg string) { p.l.Debug(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}
func (p *pionLogger) Info(msg string) { p.l.Info(msg) }
func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.l.Info(fmt.Sprintf(format, args...))
}
func (p *pionLogger) Warn(msg string) { p.l.Warn(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.l.Warn(fmt.Sprintf(format, args...))
}
func (p *pionLogger) Error(msg string) { p.l.Error(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}
