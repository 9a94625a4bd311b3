package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger. LOG_FORMAT=json switches to JSON
// records; anything else logs text.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true}))
}
