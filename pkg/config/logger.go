package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger builds a slog logger writing to stderr, or to File when set.
// The returned closer releases the log file and is never nil.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("config: log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open log file: %w", err)
		}
		out, closer = f, f
	}
	logger, err := newLogger(out, cfg)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

func newLogger(out io.Writer, cfg LoggingConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "", "text", "console":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("config: unsupported log format %q", cfg.Format)
	}
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
