package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"firestige.xyz/v2xtrx/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
v2xtrx:
  mode: trx
  node:
    hostname: obu-1
  transmit:
    aid: 135
    channel: 178
    priority: 5
    source: "02:00:00:00:00:01"
    payload_len: 100
    interval: 250ms
    initial_delay: 1s
    signed: true
    position:
      enabled: true
      latitude: 48.1
      longitude: 11.5
      elevation: 520
  receive:
    interest: [32, 135]
    channels: [172, 178]
  security:
    max_age: 30s
  transport:
    type: afpacket
    interface: wlan0
    options:
      block_size: 65536
  reporting:
    reporters:
      - type: console
        options:
          format: json
  log:
    level: debug
    format: json
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Mode != "trx" {
		t.Errorf("Expected mode trx, got %s", cfg.Mode)
	}
	if cfg.Node.Hostname != "obu-1" {
		t.Errorf("Expected hostname obu-1, got %s", cfg.Node.Hostname)
	}
	if cfg.Transmit.AID != 135 || cfg.Transmit.Channel != 178 || cfg.Transmit.Priority != 5 {
		t.Errorf("Unexpected transmit settings: %+v", cfg.Transmit)
	}
	if cfg.Transmit.Interval != 250*time.Millisecond {
		t.Errorf("Expected interval 250ms, got %v", cfg.Transmit.Interval)
	}
	if cfg.Transmit.InitialDelay != time.Second {
		t.Errorf("Expected initial delay 1s, got %v", cfg.Transmit.InitialDelay)
	}
	if len(cfg.Receive.Interest) != 2 || cfg.Receive.Interest[1] != 135 {
		t.Errorf("Expected interest [32 135], got %v", cfg.Receive.Interest)
	}
	if cfg.Security.MaxAge != 30*time.Second {
		t.Errorf("Expected max_age 30s, got %v", cfg.Security.MaxAge)
	}
	if cfg.Transport.Type != "afpacket" || cfg.Transport.Interface != "wlan0" {
		t.Errorf("Unexpected transport: %+v", cfg.Transport)
	}
	if cfg.Transport.Options["block_size"] != 65536 {
		t.Errorf("Expected transport option block_size 65536, got %v", cfg.Transport.Options["block_size"])
	}
	if len(cfg.Reporting.Reporters) != 1 || cfg.Reporting.Reporters[0].Type != "console" {
		t.Errorf("Unexpected reporters: %+v", cfg.Reporting.Reporters)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log settings: %+v", cfg.Log)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "v2xtrx: {}\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Mode != "loopback" {
		t.Errorf("Expected default mode loopback, got %s", cfg.Mode)
	}
	if cfg.Transmit.AID != 32 || cfg.Transmit.PayloadLen != 40 {
		t.Errorf("Expected default aid 32 and payload 40, got %d/%d", cfg.Transmit.AID, cfg.Transmit.PayloadLen)
	}
	if cfg.Transmit.Interval != 100*time.Millisecond {
		t.Errorf("Expected default interval 100ms, got %v", cfg.Transmit.Interval)
	}
	if cfg.Transmit.InitialDelay != time.Second {
		t.Errorf("Expected default initial delay 1s, got %v", cfg.Transmit.InitialDelay)
	}
	if len(cfg.Receive.Interest) != 1 || cfg.Receive.Interest[0] != 32 {
		t.Errorf("Expected interest to default to the transmit AID, got %v", cfg.Receive.Interest)
	}
	if cfg.Store.MaxLive != 4096 {
		t.Errorf("Expected default max_live 4096, got %d", cfg.Store.MaxLive)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected default log settings: %+v", cfg.Log)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Node.Hostname == "" {
		t.Error("Expected hostname to be auto-detected")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Mode != "loopback" {
		t.Errorf("Expected default mode loopback, got %s", cfg.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid log level", "v2xtrx:\n  log:\n    level: loud\n"},
		{"invalid log format", "v2xtrx:\n  log:\n    format: xml\n"},
		{"invalid mode", "v2xtrx:\n  mode: tx\n"},
		{"aid too large", "v2xtrx:\n  transmit:\n    aid: 0x20000000\n"},
		{"interest too large", "v2xtrx:\n  receive:\n    interest: [32, 4294967295]\n"},
		{"bad source mac", "v2xtrx:\n  transmit:\n    source: not-a-mac\n"},
		{"priority out of range", "v2xtrx:\n  transmit:\n    priority: 9\n"},
		{"zero payload", "v2xtrx:\n  transmit:\n    payload_len: 0\n"},
		{"tiny mtu", "v2xtrx:\n  transmit:\n    mtu: 20\n"},
		{"negative interval", "v2xtrx:\n  transmit:\n    interval: -1s\n"},
		{"latitude out of range", "v2xtrx:\n  transmit:\n    position:\n      latitude: 91\n"},
		{"store too small", "v2xtrx:\n  store:\n    max_live: 1\n"},
		{"reporter without type", "v2xtrx:\n  reporting:\n    reporters:\n      - options: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, "v2xtrx:\n  log:\n    level: info\n")
	t.Setenv("V2XTRX_LOG_LEVEL", "debug")
	t.Setenv("V2XTRX_TRANSMIT_AID", "135")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Transmit.AID != 135 {
		t.Errorf("Expected aid 135 from env var, got %d", cfg.Transmit.AID)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.String("mode", "trx", "")
	fs.Uint32("aid", 32, "")
	fs.Int("payload-len", 40, "")
	fs.Duration("interval", 100*time.Millisecond, "")
	fs.Bool("signed", false, "")
	fs.StringSlice("interest", nil, "")
	fs.String("transport", "udp", "")
	fs.Bool("debug", false, "")
	return fs
}

func TestLoadWithFlagsOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
v2xtrx:
  mode: rx
  transmit:
    aid: 135
    payload_len: 200
`)
	fs := newFlagSet()
	if err := fs.Parse([]string{"--mode", "loopback", "--payload-len", "64", "--interest", "32,0x87", "--signed", "--debug"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := LoadWithFlags(configPath, fs)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Mode != "loopback" {
		t.Errorf("Expected mode loopback from flag, got %s", cfg.Mode)
	}
	if cfg.Transmit.PayloadLen != 64 {
		t.Errorf("Expected payload_len 64 from flag, got %d", cfg.Transmit.PayloadLen)
	}
	// Unset flags do not override the file.
	if cfg.Transmit.AID != 135 {
		t.Errorf("Expected aid 135 from file, got %d", cfg.Transmit.AID)
	}
	if !cfg.Transmit.Signed {
		t.Error("Expected signed from flag")
	}
	if len(cfg.Receive.Interest) != 2 || cfg.Receive.Interest[0] != 32 || cfg.Receive.Interest[1] != 135 {
		t.Errorf("Expected interest [32 135] from flag, got %v", cfg.Receive.Interest)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected --debug to force log level debug, got %s", cfg.Log.Level)
	}
}

func TestProfile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
v2xtrx:
  transmit:
    aid: 135
    tx_power: -3
    source: "02:00:00:00:00:01"
    signed: true
    position:
      enabled: true
      latitude: 48.1
      longitude: 11.5
  transport:
    interface: wlan0
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	p := cfg.Profile()
	if p.AID != 135 || p.TxPower != -3 || !p.Signed {
		t.Errorf("Unexpected profile: %+v", p)
	}
	if p.Source.String() != "02:00:00:00:00:01" {
		t.Errorf("Expected source MAC, got %v", p.Source)
	}
	if p.Destination.String() != "ff:ff:ff:ff:ff:ff" {
		t.Errorf("Expected broadcast destination, got %v", p.Destination)
	}
	if p.Interface != "wlan0" {
		t.Errorf("Expected interface wlan0, got %s", p.Interface)
	}
	if !p.Position.Valid || p.Position.Latitude != 481000000 {
		t.Errorf("Unexpected position: %+v", p.Position)
	}
}

func TestFilter(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
v2xtrx:
  receive:
    interest: [32, 135]
    channels: [172]
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	interest := cfg.Interest()
	for aid, want := range map[uint32]bool{32: true, 135: true, 999: false} {
		if got := interest.IsInteresting(aid); got != want {
			t.Errorf("IsInteresting(%d) = %v, want %v", aid, got, want)
		}
	}

	f := cfg.Filter()
	if !f.Interesting(core.Header{AID: 32, Channel: 172, HasChannel: true}) {
		t.Error("Expected AID 32 on channel 172 to be interesting")
	}
	if f.Interesting(core.Header{AID: 32, Channel: 178, HasChannel: true}) {
		t.Error("Expected channel 178 to be filtered out")
	}
}
