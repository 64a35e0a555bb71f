// Package daemon implements the v2xtrx process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/config"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/link"
	logpkg "firestige.xyz/v2xtrx/internal/log"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/pipeline"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/report"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// Version is set at build time.
var Version = "dev"

// Daemon manages the v2xtrx process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string
	reportOut  io.Writer

	// Core components
	pipeline      *pipeline.Pipeline
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopped      bool
}

// New creates a daemon for an already loaded configuration. configPath is
// only used to reload on SIGHUP and may be empty.
func New(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		reportOut:    os.Stdout,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all components. On error everything
// started so far is shut down again.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting v2xtrx",
		"version", Version,
		"hostname", d.config.Node.Hostname,
		"mode", d.config.Mode,
		"config", d.configPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build and start the pipeline
	p, err := d.buildPipeline()
	if err != nil {
		d.Stop()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	if err := p.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	d.pipeline = p

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all components.
func (d *Daemon) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	slog.Info("initiating graceful shutdown")

	// 1. Drain the pipeline
	if d.pipeline != nil {
		if err := d.pipeline.Stop(); err != nil {
			slog.Error("error stopping pipeline", "error", err)
		}
	}

	// 2. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 3. Cancel context to signal all goroutines
	d.cancel()

	// 4. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 5. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 6. Flush logs
	if err := logpkg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
}

// Run blocks until shutdown is triggered, then stops the daemon.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. ctx being done (e.g. a run duration elapsed)
//
// SIGHUP reloads the log configuration.
func (d *Daemon) Run(ctx context.Context) error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-ctx.Done():
			slog.Info("run context done", "reason", ctx.Err())
			d.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): everything the pipeline was built from.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no config file to reload")
	}
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.Mode != d.config.Mode {
		requiresRestart = append(requiresRestart, "mode")
	}
	if newConfig.Transmit != d.config.Transmit {
		requiresRestart = append(requiresRestart, "transmit")
	}
	if newConfig.Transport.Type != d.config.Transport.Type || newConfig.Transport.Interface != d.config.Transport.Interface {
		requiresRestart = append(requiresRestart, "transport")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	d.config.Log = newConfig.Log

	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Stats returns the pipeline counters.
func (d *Daemon) Stats() pipeline.Stats {
	if d.pipeline == nil {
		return pipeline.Stats{}
	}
	return d.pipeline.Stats()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil || d.metricsServer.Addr() == nil {
		return ""
	}
	return d.metricsServer.Addr().String()
}

// buildPipeline constructs the pipeline and its collaborators. Whatever was
// built before a failure is closed again.
func (d *Daemon) buildPipeline() (_ *pipeline.Pipeline, err error) {
	cfg := d.config
	mode := core.Mode(cfg.Mode)

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	engine, err := secmsg.NewSoftwareEngine(secmsg.Options{
		Workers:             cfg.Security.Workers,
		QueueSize:           cfg.Security.QueueSize,
		KeyFile:             cfg.Security.KeyFile,
		CertificateInterval: cfg.Security.CertificateInterval,
		MaxAge:              cfg.Security.MaxAge,
		SignerTTL:           cfg.Security.SignerTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("secure-message engine: %w", err)
	}
	cleanup = append(cleanup, func() { _ = engine.Close() })

	var transport link.Transport
	if mode != core.ModeLoopback {
		transport, err = link.New(link.Config{
			Type:        cfg.Transport.Type,
			Interface:   cfg.Transport.Interface,
			CaptureFile: cfg.Transport.CaptureFile,
			Options:     cfg.Transport.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		cleanup = append(cleanup, func() { _ = transport.Close() })
	}

	var queue *report.Queue
	if len(cfg.Reporting.Reporters) > 0 {
		reporters := make([]report.Reporter, 0, len(cfg.Reporting.Reporters))
		for _, rc := range cfg.Reporting.Reporters {
			r, err := report.New(report.Config{Type: rc.Type, Options: rc.Options}, d.reportOut)
			if err != nil {
				for _, built := range reporters {
					_ = built.Close(context.Background())
				}
				return nil, fmt.Errorf("reporter %s: %w", rc.Type, err)
			}
			reporters = append(reporters, r)
		}
		queue = report.NewQueue(cfg.Reporting.QueueSize, reporters...)
		cleanup = append(cleanup, func() { _ = queue.Close() })
	}

	return pipeline.NewBuilder(mode).
		WithProfile(cfg.Profile()).
		WithStore(record.NewStore(record.Options{
			MaxLive:    cfg.Store.MaxLive,
			BufferSize: cfg.Store.BufferSize,
			Strict:     cfg.Store.Strict,
		})).
		WithCodec(codec.New()).
		WithFilter(cfg.Filter()).
		WithEngine(engine).
		WithTransport(transport).
		WithReporters(queue).
		WithSinkWorkers(cfg.Receive.SinkWorkers).
		Build()
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
