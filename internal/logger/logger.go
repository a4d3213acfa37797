// Package logger builds the process logger: colored text while developing,
// JSON in production, and request scoped children carried in contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Output formats accepted by Config.Format.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Logger is the process logger. Packages receive plain *slog.Logger values
// from Component.
type Logger struct {
	*slog.Logger
}

// Config selects the output. An empty Format means JSON in production and
// pretty text everywhere else.
type Config struct {
	Writer      io.Writer
	Format      string
	Environment string
	Level       slog.Level
	AddSource   bool
}

func (c Config) format() string {
	switch {
	case c.Format != "":
		return c.Format
	case c.Environment == "production":
		return FormatJSON
	default:
		return FormatPretty
	}
}

func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: baseSourceFile,
	}

	var h slog.Handler = NewPrettyHandler(w, opts)
	if cfg.format() == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// baseSourceFile trims source paths down to the file name.
func baseSourceFile(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		src.File = filepath.Base(src.File)
	}
	return a
}

func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a case-insensitive level name to a slog level. Unknown
// names are info.
func ParseLevel(level string) slog.Level {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return slog.LevelInfo
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *slog.Logger {
	return l.With(slog.String("component", name))
}

type ctxKey struct{}

// IntoContext stores a request scoped logger in ctx.
func IntoContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored by IntoContext, or fallback.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return fallback
}
