package log

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/v2xtrx/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			if _, err := parseLevel(input); err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

// restoreDefault puts the previous default logger back after a test that
// calls Init.
func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		Close()
	})
}

func TestInitStdoutOnly(t *testing.T) {
	restoreDefault(t)
	for _, format := range []string{"json", "text", "pattern"} {
		if err := Init(config.LogConfig{Level: "info", Format: format}); err != nil {
			t.Fatalf("Init(%s) failed: %v", format, err)
		}
	}
}

func TestInitWithFileOutput(t *testing.T) {
	restoreDefault(t)
	logPath := filepath.Join(t.TempDir(), "v2xtrx.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     logPath,
				Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
			},
		},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("frame discarded", "aid", 32)
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"frame discarded"`) || !strings.Contains(string(data), `"aid":32`) {
		t.Errorf("Unexpected log file content: %s", data)
	}
}

func TestInitErrors(t *testing.T) {
	restoreDefault(t)
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"invalid level", config.LogConfig{Level: "loud", Format: "json"}},
		{"invalid format", config.LogConfig{Level: "info", Format: "xml"}},
		{"missing file path", config.LogConfig{Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}}}},
		{"missing loki endpoint", config.LogConfig{Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{Loki: config.LokiOutputConfig{Enabled: true}}}},
		{"invalid loki timeout", config.LogConfig{Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{Loki: config.LokiOutputConfig{Enabled: true, Endpoint: "http://localhost:3100", BatchTimeout: "soon"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Init(tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestPatternHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewPatternHandler(&buf, "%time [%level] %msg %field%n", "15:04:05", slog.LevelInfo)
	logger := slog.New(h)

	logger.Debug("hidden")
	logger.Info("frame transmitted", "len", 61, "aid", 32)
	logger.With("transport", "udp").WithGroup("tx").Warn("transmit failed", "error", errors.New("boom"))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], "[info] frame transmitted aid=32,len=61") {
		t.Errorf("Unexpected info line: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "[warning] transmit failed transport=udp,tx.error=boom") {
		t.Errorf("Unexpected warn line: %q", lines[1])
	}
}

func TestPatternHandlerDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPatternHandler(&buf, "", "", slog.LevelDebug))

	logger.Debug("dropping frame", slog.Group("meta", "interface", "wlan0"))

	if !strings.Contains(buf.String(), "[debug] dropping frame meta.interface=wlan0\n") {
		t.Errorf("Unexpected output: %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterContinuesPastErrors(t *testing.T) {
	var buf bytes.Buffer
	w := NewMultiWriter().Add(failingWriter{}).Add(&buf)

	n, err := w.Write([]byte("line\n"))
	if err == nil {
		t.Error("Expected the failing output's error")
	}
	if n != 5 {
		t.Errorf("Expected 5 bytes written, got %d", n)
	}
	if buf.String() != "line\n" {
		t.Errorf("Expected later outputs to receive the line, got %q", buf.String())
	}
}
