// Package xlog provides the engine's structured logger. It wraps log/slog
// with options mirroring the CLI's shared flags (--debugging, -v, format,
// quiet) and fans records out to multiple sinks (console and a per-run log
// file) via slog-multi, so a run driver's log lines land both on the
// parent process's console and in the run's own log file.
package xlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the engine-wide logging facade. All log call sites in the
// engine use this instead of slog directly so that the source location
// reported in a log line is the caller's, not xlog's.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	// With returns a Logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

type options struct {
	debug   bool
	format  string
	quiet   bool
	writer  io.Writer
	logFile *os.File
}

// Option configures a Logger constructed with NewLogger.
type Option func(*options)

func WithDebug() Option { return func(o *options) { o.debug = true } }

func WithFormat(format string) Option { return func(o *options) { o.format = format } }

func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithWriter overrides the console sink (primarily for tests).
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithLogFile adds a second sink that mirrors every record into f.
func WithLogFile(f *os.File) Option { return func(o *options) { o.logFile = f } }

type logger struct {
	sl *slog.Logger
}

// NewLogger builds a Logger from the given options. Source location
// (file:line) is always included, pointing at the call site.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text", writer: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: true}

	var consoleWriter io.Writer = o.writer
	if o.quiet {
		consoleWriter = io.Discard
	}

	var handler slog.Handler
	if o.format == "json" {
		handler = slog.NewJSONHandler(consoleWriter, handlerOpts)
	} else {
		handler = slog.NewTextHandler(consoleWriter, handlerOpts)
	}

	if o.logFile != nil {
		fileHandler := slog.NewTextHandler(o.logFile, handlerOpts)
		handler = slogmulti.Fanout(handler, fileHandler)
	}

	return &logger{sl: slog.New(handler)}
}

// log attributes the record's source location to the caller of the
// package-level xlog.Debug/Info/... helper (skip: runtime.Callers, log,
// the Logger method, and the package-level helper that called it).
func (l *logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.sl.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(4, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.sl.Handler().Handle(ctx, r)
}

func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *logger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, sprintf(format, args...)) }
func (l *logger) Infof(format string, args ...any)  { l.log(slog.LevelInfo, sprintf(format, args...)) }
func (l *logger) Warnf(format string, args ...any)  { l.log(slog.LevelWarn, sprintf(format, args...)) }
func (l *logger) Errorf(format string, args ...any) { l.log(slog.LevelError, sprintf(format, args...)) }

func (l *logger) With(args ...any) Logger {
	return &logger{sl: l.sl.With(args...)}
}
