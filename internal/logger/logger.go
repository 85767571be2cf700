// Package logger builds the process-wide slog.Logger from AppConfig and
// carries request or run scoped loggers through a context.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/rafaeljc/nornir/internal/config"
	"github.com/rafaeljc/nornir/internal/validation"
)

// New writes to stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger writing to w. Records carry the service name,
// version and environment. Unknown formats fall back to JSON and unknown
// levels to info. Source locations are added outside production.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	validation.AssertNotNil(cfg, "logger: config")

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.LogLevel),
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// NewNop discards every record.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Component tags l with a component name such as "engine" or "syncer".
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", name))
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if lvl.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return lvl
}
