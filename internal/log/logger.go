// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/v2xtrx/internal/config"
)

var (
	mu     sync.Mutex
	output *MultiWriter
)

// Init initializes the global logger based on configuration. Outputs
// opened by a previous Init are closed.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// stdout is always included.
	w := NewMultiWriter().Add(os.Stdout)

	if cfg.Outputs.File.Enabled {
		fw, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		w.Add(fw)
	}

	if cfg.Outputs.Loki.Enabled {
		lw, err := createLokiWriter(cfg.Outputs.Loki)
		if err != nil {
			w.Close()
			return fmt.Errorf("failed to create loki output: %w", err)
		}
		w.Add(lw)
	}

	handler, err := newHandler(cfg, w, level)
	if err != nil {
		w.Close()
		return err
	}

	mu.Lock()
	prev := output
	output = w
	mu.Unlock()
	slog.SetDefault(slog.New(handler))
	if prev != nil {
		prev.Close()
	}
	return nil
}

// Close flushes and closes the outputs opened by Init.
func Close() error {
	mu.Lock()
	w := output
	output = nil
	mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func newHandler(cfg config.LogConfig, w io.Writer, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "pattern":
		return NewPatternHandler(w, cfg.Pattern, cfg.Time, level), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json, text or pattern)", cfg.Format)
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

// createLokiWriter creates a Loki writer.
func createLokiWriter(lc config.LokiOutputConfig) (*LokiWriter, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	var interval time.Duration
	if lc.BatchTimeout != "" {
		d, err := time.ParseDuration(lc.BatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid batch_timeout: %w", err)
		}
		interval = d
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        lc.Labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: interval,
	})
}
