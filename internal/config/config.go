// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `v2xtrx:` root key in YAML.
type GlobalConfig struct {
	Mode      string          `mapstructure:"mode" yaml:"mode"` // trx | rx | loopback
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Transmit  TransmitConfig  `mapstructure:"transmit" yaml:"transmit"`
	Receive   ReceiveConfig   `mapstructure:"receive" yaml:"receive"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Reporting ReportingConfig `mapstructure:"reporting" yaml:"reporting"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// ─── Transmit ───

// TransmitConfig is the source of the immutable transmit profile.
type TransmitConfig struct {
	AID          uint32         `mapstructure:"aid" yaml:"aid"`
	Channel      uint8          `mapstructure:"channel" yaml:"channel"`
	DataRate     uint8          `mapstructure:"data_rate" yaml:"data_rate"` // 500 kbit/s units
	TxPower      int8           `mapstructure:"tx_power" yaml:"tx_power"`   // dBm
	Priority     uint8          `mapstructure:"priority" yaml:"priority"`   // 802.1Q user priority 0-7
	Source       string         `mapstructure:"source" yaml:"source"`
	Destination  string         `mapstructure:"destination" yaml:"destination"`
	PayloadLen   int            `mapstructure:"payload_len" yaml:"payload_len"`
	Interval     time.Duration  `mapstructure:"interval" yaml:"interval"`
	InitialDelay time.Duration  `mapstructure:"initial_delay" yaml:"initial_delay"`
	Signed       bool           `mapstructure:"signed" yaml:"signed"`
	MTU          int            `mapstructure:"mtu" yaml:"mtu"`
	Position     PositionConfig `mapstructure:"position" yaml:"position"`
}

// PositionConfig is the WGS84 location embedded in signed messages.
type PositionConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	Elevation float64 `mapstructure:"elevation" yaml:"elevation"` // metres
}

// ─── Receive ───

// ReceiveConfig configures the receive path.
type ReceiveConfig struct {
	Interest    []uint32 `mapstructure:"interest" yaml:"interest"` // Empty = transmit AID only
	Channels    []uint8  `mapstructure:"channels" yaml:"channels,omitempty"`
	SinkWorkers int      `mapstructure:"sink_workers" yaml:"sink_workers"`
}

// ─── Packet Record Store ───

// StoreConfig configures the packet record store.
type StoreConfig struct {
	MaxLive    int  `mapstructure:"max_live" yaml:"max_live"`
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	Strict     bool `mapstructure:"strict" yaml:"strict"` // panic on lifecycle defects
}

// ─── Secure-message Engine ───

// SecurityConfig configures the software secure-message engine.
type SecurityConfig struct {
	KeyFile             string        `mapstructure:"key_file" yaml:"key_file"`
	Workers             int           `mapstructure:"workers" yaml:"workers"`
	QueueSize           int           `mapstructure:"queue_size" yaml:"queue_size"`
	CertificateInterval time.Duration `mapstructure:"certificate_interval" yaml:"certificate_interval"`
	MaxAge              time.Duration `mapstructure:"max_age" yaml:"max_age"` // 0 = no expiry check
	SignerTTL           time.Duration `mapstructure:"signer_ttl" yaml:"signer_ttl"`
}

// ─── Transport ───

// TransportConfig selects and configures the link-layer transport.
type TransportConfig struct {
	Type        string         `mapstructure:"type" yaml:"type"` // udp | afpacket | replay
	Interface   string         `mapstructure:"interface" yaml:"interface"`
	CaptureFile string         `mapstructure:"capture_file" yaml:"capture_file,omitempty"`
	Options     map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Reporting ───

// ReportingConfig configures the reporters fed by the completion sink.
type ReportingConfig struct {
	QueueSize int              `mapstructure:"queue_size" yaml:"queue_size"`
	Reporters []ReporterConfig `mapstructure:"reporters" yaml:"reporters,omitempty"`
}

// ReporterConfig configures one reporter.
type ReporterConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"` // console | kafka
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"`   // json / text / pattern
	Pattern string           `mapstructure:"pattern" yaml:"pattern"` // used by the pattern format
	Time    string           `mapstructure:"time" yaml:"time"`       // time layout of the pattern format
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
	Loki LokiOutputConfig `mapstructure:"loki" yaml:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
	BatchSize    int               `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `v2xtrx: ...`.
type configRoot struct {
	V2XTRX GlobalConfig `mapstructure:"v2xtrx"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"mode":          "v2xtrx.mode",
	"aid":           "v2xtrx.transmit.aid",
	"payload-len":   "v2xtrx.transmit.payload_len",
	"interval":      "v2xtrx.transmit.interval",
	"initial-delay": "v2xtrx.transmit.initial_delay",
	"signed":        "v2xtrx.transmit.signed",
	"lat":           "v2xtrx.transmit.position.latitude",
	"lon":           "v2xtrx.transmit.position.longitude",
	"elevation":     "v2xtrx.transmit.position.elevation",
	"interest":      "v2xtrx.receive.interest",
	"key-file":      "v2xtrx.security.key_file",
	"transport":     "v2xtrx.transport.type",
	"interface":     "v2xtrx.transport.interface",
	"capture-file":  "v2xtrx.transport.capture_file",
	"log-level":     "v2xtrx.log.level",
	"log-format":    "v2xtrx.log.format",
	"metrics-addr":  "v2xtrx.metrics.listen",
}

// Load loads configuration from file.
// The YAML file uses `v2xtrx:` as root key; env vars use the V2XTRX_ prefix (e.g., V2XTRX_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags loads configuration from file and overrides it with every
// flag in fs the user actually set. An empty path loads defaults only.
func LoadWithFlags(path string, fs *pflag.FlagSet) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `v2xtrx.` key prefix maps to `V2XTRX_` in env vars via the key
	// replacer (e.g., key "v2xtrx.log.level" → env "V2XTRX_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
		if f := fs.Lookup("debug"); f != nil && f.Changed && f.Value.String() == "true" {
			v.Set("v2xtrx.log.level", "debug")
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.V2XTRX

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "v2xtrx." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("v2xtrx.mode", "loopback")

	// Transmit defaults
	v.SetDefault("v2xtrx.transmit.aid", 32)
	v.SetDefault("v2xtrx.transmit.channel", 172)
	v.SetDefault("v2xtrx.transmit.data_rate", 12)
	v.SetDefault("v2xtrx.transmit.tx_power", 20)
	v.SetDefault("v2xtrx.transmit.priority", 0)
	v.SetDefault("v2xtrx.transmit.destination", "ff:ff:ff:ff:ff:ff")
	v.SetDefault("v2xtrx.transmit.payload_len", 40)
	v.SetDefault("v2xtrx.transmit.interval", "100ms")
	v.SetDefault("v2xtrx.transmit.initial_delay", "1s")
	v.SetDefault("v2xtrx.transmit.signed", false)
	v.SetDefault("v2xtrx.transmit.mtu", 1500)

	// Receive defaults
	v.SetDefault("v2xtrx.receive.sink_workers", 1)

	// Store defaults
	v.SetDefault("v2xtrx.store.max_live", 4096)
	v.SetDefault("v2xtrx.store.buffer_size", 2048)
	v.SetDefault("v2xtrx.store.strict", false)

	// Secure-message engine defaults
	v.SetDefault("v2xtrx.security.workers", 2)
	v.SetDefault("v2xtrx.security.queue_size", 256)
	v.SetDefault("v2xtrx.security.certificate_interval", "1s")
	v.SetDefault("v2xtrx.security.max_age", "0s")
	v.SetDefault("v2xtrx.security.signer_ttl", "10m")

	// Transport defaults
	v.SetDefault("v2xtrx.transport.type", "udp")

	// Reporting defaults
	v.SetDefault("v2xtrx.reporting.queue_size", 1024)

	// Metrics defaults
	v.SetDefault("v2xtrx.metrics.enabled", false)
	v.SetDefault("v2xtrx.metrics.listen", ":9091")
	v.SetDefault("v2xtrx.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("v2xtrx.log.level", "info")
	v.SetDefault("v2xtrx.log.format", "text")
	v.SetDefault("v2xtrx.log.pattern", "%time [%level] %msg %field%n")
	v.SetDefault("v2xtrx.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("v2xtrx.log.outputs.file.enabled", false)
	v.SetDefault("v2xtrx.log.outputs.file.path", "/var/log/v2xtrx/v2xtrx.log")
	v.SetDefault("v2xtrx.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("v2xtrx.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("v2xtrx.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("v2xtrx.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	case "pattern":
		if cfg.Log.Pattern == "" {
			return fmt.Errorf("%w: log format pattern needs log.pattern", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: log format %s (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Mode ──
	if !core.Mode(cfg.Mode).Valid() {
		return fmt.Errorf("%w: mode %q (must be trx/rx/loopback)", core.ErrConfigInvalid, cfg.Mode)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Transmit profile ──
	tx := &cfg.Transmit
	if err := validateAID(tx.AID); err != nil {
		return fmt.Errorf("transmit.aid: %w", err)
	}
	if tx.Priority > 7 {
		return fmt.Errorf("%w: transmit.priority %d (must be 0-7)", core.ErrConfigInvalid, tx.Priority)
	}
	for name, mac := range map[string]string{"source": tx.Source, "destination": tx.Destination} {
		if mac == "" {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			return fmt.Errorf("%w: transmit.%s %q: %v", core.ErrConfigInvalid, name, mac, err)
		}
	}
	if tx.PayloadLen <= 0 {
		return fmt.Errorf("%w: transmit.payload_len must be positive", core.ErrConfigInvalid)
	}
	if tx.MTU < 64 || tx.MTU > 9000 {
		return fmt.Errorf("%w: transmit.mtu %d (must be 64-9000)", core.ErrConfigInvalid, tx.MTU)
	}
	if tx.Interval <= 0 {
		return fmt.Errorf("%w: transmit.interval must be positive", core.ErrConfigInvalid)
	}
	if tx.InitialDelay < 0 {
		return fmt.Errorf("%w: transmit.initial_delay must not be negative", core.ErrConfigInvalid)
	}
	if p := tx.Position; p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: transmit.position out of range", core.ErrConfigInvalid)
	}

	// ── Receive ──
	if len(cfg.Receive.Interest) == 0 {
		cfg.Receive.Interest = []uint32{tx.AID}
	}
	for _, aid := range cfg.Receive.Interest {
		if err := validateAID(aid); err != nil {
			return fmt.Errorf("receive.interest: %w", err)
		}
	}
	if cfg.Receive.SinkWorkers <= 0 {
		cfg.Receive.SinkWorkers = 1
	}

	// ── Store ──
	// A loopback firing holds its own record while the dispatcher allocates.
	if cfg.Store.MaxLive < 2 {
		return fmt.Errorf("%w: store.max_live must be at least 2", core.ErrConfigInvalid)
	}

	// ── Transport ──
	if core.Mode(cfg.Mode) != core.ModeLoopback && cfg.Transport.Type == "" {
		return fmt.Errorf("%w: transport.type is required in %s mode", core.ErrConfigInvalid, cfg.Mode)
	}

	// ── Reporting ──
	for i, r := range cfg.Reporting.Reporters {
		if r.Type == "" {
			return fmt.Errorf("%w: reporting.reporters[%d].type is required", core.ErrConfigInvalid, i)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}

// validateAID checks that aid is representable as a p-encoded PSID.
func validateAID(aid uint32) error {
	if aid > codec.MaxPSID {
		return fmt.Errorf("%w: aid %#x exceeds %#x", core.ErrConfigInvalid, aid, codec.MaxPSID)
	}
	return nil
}
