package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/v2xtrx/internal/config"
	"firestige.xyz/v2xtrx/internal/daemon"
)

func newRunCmd() *cobra.Command {
	var (
		pidFile  string
		duration time.Duration
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transmit/receive pipeline in foreground",
		Long: `Run the pipeline in foreground until SIGINT/SIGTERM (or --duration elapses).

Flags override the config file, which overrides built-in defaults.
Environment variables V2XTRX_<SECTION>_<KEY> override the file as well.

Examples:
  v2xtrx run --mode loopback --aid 32 --payload-len 40
  v2xtrx run --mode trx --transport udp --signed --lat 48.1 --lon 11.5
  v2xtrx run -c /etc/v2xtrx/config.yml --mode rx --interest 32,135`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.Flags(), pidFile, duration)
		},
	}

	f := runCmd.Flags()
	addRunFlags(f)
	f.StringVarP(&pidFile, "pidfile", "p", "", "PID file path")
	f.DurationVar(&duration, "duration", 0, "stop after this long (0 = run until signalled)")
	return runCmd
}

// addRunFlags registers the flags that override configuration keys.
func addRunFlags(f *pflag.FlagSet) {
	f.String("mode", "loopback", "pipeline mode: trx | rx | loopback")
	f.Uint32("aid", 32, "application identifier (PSID) to transmit")
	f.Int("payload-len", 40, "application payload length in bytes")
	f.Duration("interval", 100*time.Millisecond, "transmit interval")
	f.Duration("initial-delay", time.Second, "delay before the first transmission")
	f.Bool("signed", false, "sign transmitted messages")
	f.Float64("lat", 0, "latitude in degrees embedded in signed messages")
	f.Float64("lon", 0, "longitude in degrees embedded in signed messages")
	f.Float64("elevation", 0, "elevation in metres embedded in signed messages")
	f.String("key-file", "", "PKCS#8 PEM Ed25519 signing key (default: ephemeral)")
	f.StringSlice("interest", nil, "AIDs to accept on receive (default: the transmit AID)")
	f.String("transport", "udp", "transport type: udp | afpacket | replay")
	f.String("interface", "", "network interface")
	f.String("capture-file", "", "record all frames to this pcap file")
	f.String("log-level", "info", "log level: debug | info | warn | error")
	f.String("log-format", "text", "log format: json | text | pattern")
	f.String("metrics-addr", ":9091", "metrics listen address")
	f.Bool("debug", false, "shorthand for --log-level debug")
}

func runPipeline(ctx context.Context, flags *pflag.FlagSet, pidFile string, duration time.Duration) error {
	cfg, err := config.LoadWithFlags(configFile, flags)
	if err != nil {
		return err
	}
	// A position given on the command line enables it.
	if flags.Changed("lat") || flags.Changed("lon") {
		cfg.Transmit.Position.Enabled = true
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
	}

	d := daemon.New(cfg, configFile, pidFile)
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	return d.Run(ctx)
}
