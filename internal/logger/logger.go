// Package logger builds the application's slog.Logger. Records fan out to the
// console and, optionally, an append-only log file.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type options struct {
	level  slog.Level
	format string
	file   string
	quiet  bool
	writer io.Writer
}

type Option func(*options)

// WithLevel parses debug, info, warn or error; anything else means info.
func WithLevel(level string) Option {
	return func(o *options) {
		o.level = ParseLevel(level)
	}
}

// WithFormat selects the text or json handler.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithFile also appends records to path, creating its directory.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithQuiet suppresses console output. Used while the terminal view owns the screen.
func WithQuiet() Option {
	return func(o *options) {
		o.quiet = true
	}
}

// WithWriter replaces stderr as the console destination.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts. The returned closer releases the log file
// and is safe to call when no file was opened.
func New(opts ...Option) (*slog.Logger, func() error, error) {
	o := &options{level: slog.LevelInfo, format: "text", writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     o.level,
		AddSource: o.level == slog.LevelDebug,
	}

	var handlers []slog.Handler
	closer := func() error { return nil }

	if !o.quiet {
		handlers = append(handlers, newHandler(o.writer, o.format, handlerOpts))
	}

	if o.file != "" {
		if err := os.MkdirAll(filepath.Dir(o.file), 0o755); err != nil {
			return nil, closer, fmt.Errorf("failed to create log directory for %s: %w", o.file, err)
		}
		f, err := os.OpenFile(o.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, closer, fmt.Errorf("failed to open log file %s: %w", o.file, err)
		}
		handlers = append(handlers, newHandler(f, o.format, handlerOpts))
		closer = f.Close
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
