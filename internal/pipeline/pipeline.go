// Package pipeline implements the V2X transmit/receive pipeline: the
// receive dispatcher, the completion sink and the transmit task, wired
// around a packet record store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/filter"
	"firestige.xyz/v2xtrx/internal/link"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/report"
	"firestige.xyz/v2xtrx/internal/scheduler"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// Config contains pipeline configuration. The pipeline takes ownership of
// Engine, Transport and Queue and closes them on Stop.
type Config struct {
	Mode    core.Mode
	Profile core.TransmitProfile
	Store   *record.Store
	Codec   *codec.Codec
	Filter  filter.Filter
	Engine  secmsg.Engine
	// Transport is required unless Mode is loopback.
	Transport   link.Transport
	Queue       *report.Queue
	SinkWorkers int
	// Ticker overrides the transmit interval ticker.
	Ticker scheduler.Ticker
}

// Pipeline runs the receive and transmit paths.
type Pipeline struct {
	cfg         Config
	metrics     *Metrics
	dispatcher  *Dispatcher
	sink        *Sink
	transmitter *Transmitter
	runner      *scheduler.Runner

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New validates cfg and builds the pipeline.
func New(cfg Config) (*Pipeline, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", core.ErrConfigInvalid, cfg.Mode)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: no secure-message engine", core.ErrConfigInvalid)
	}
	if cfg.Transport == nil && cfg.Mode != core.ModeLoopback {
		return nil, fmt.Errorf("%w: mode %s needs a transport", core.ErrConfigInvalid, cfg.Mode)
	}
	if cfg.Store == nil {
		cfg.Store = record.NewStore(record.Options{})
	}
	cfg.Store.Observe(func(live int) {
		metrics.LiveRecords.Set(float64(live))
	})
	if cfg.Codec == nil {
		cfg.Codec = codec.New()
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.NewInterestSet(cfg.Profile.AID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Metrics{}
	p := &Pipeline{
		cfg:        cfg,
		metrics:    m,
		dispatcher: NewDispatcher(ctx, cfg.Store, cfg.Codec, cfg.Filter, cfg.Engine, m),
		sink:       NewSink(cfg.Store, cfg.Queue, m, cfg.SinkWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.Mode.Transmits() {
		var loopback link.InboundFunc
		if cfg.Mode == core.ModeLoopback {
			loopback = p.dispatcher.HandleFrame
		}
		p.transmitter = NewTransmitter(cfg.Profile, cfg.Store, cfg.Codec, cfg.Engine, cfg.Transport, loopback, m)
	}
	return p, nil
}

// Start starts the sink, the transport and the transmit scheduler. On
// failure everything started so far is shut down again.
func (p *Pipeline) Start() error {
	slog.Info("pipeline starting", "mode", p.cfg.Mode, "aid", p.cfg.Profile.AID)

	p.sink.Start(p.cfg.Engine.Completions())

	if t := p.cfg.Transport; t != nil && p.cfg.Mode != core.ModeLoopback {
		t.RegisterInbound(p.dispatcher.HandleFrame)
		if err := t.Start(p.ctx); err != nil {
			_ = p.Stop()
			return fmt.Errorf("start transport %s: %w", t.Name(), err)
		}
	}

	if p.transmitter != nil {
		p.runner = scheduler.Start(p.transmitter, scheduler.Options{
			Interval:     p.cfg.Profile.Interval,
			InitialDelay: p.cfg.Profile.InitialDelay,
			Ticker:       p.cfg.Ticker,
		})
	}
	slog.Info("pipeline started", "mode", p.cfg.Mode)
	return nil
}

// Stop shuts down in drain order: no new firings, no new inbound frames,
// the engine finishes accepted work, the sink drains its completions and
// the reporters flush.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		slog.Info("pipeline stopping", "mode", p.cfg.Mode)
		var errs []error

		if p.runner != nil {
			p.runner.Stop()
		}
		if p.cfg.Transport != nil {
			if err := p.cfg.Transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}
		if err := p.cfg.Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		p.sink.Wait()
		if p.cfg.Queue != nil {
			if err := p.cfg.Queue.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close reporters: %w", err))
			}
		}
		p.cancel()

		store := p.cfg.Store.Stats()
		if store.Live != 0 {
			slog.Error("packet records leaked", "live", store.Live)
		}
		stats := p.metrics.Snapshot()
		slog.Info("pipeline stopped",
			"received", stats.Received, "submitted", stats.Submitted, "completed", stats.Completed,
			"firings", stats.Firings, "transmitted", stats.Transmitted, "looped", stats.Looped,
			"defects", store.Defects)
		p.stopErr = errors.Join(errs...)
	})
	return p.stopErr
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

// StoreStats returns the packet record store counters.
func (p *Pipeline) StoreStats() record.Stats {
	return p.cfg.Store.Stats()
}

// HandleFrame injects an inbound frame as if a transport had delivered it.
func (p *Pipeline) HandleFrame(frame []byte, meta core.RxMeta) {
	p.dispatcher.HandleFrame(frame, meta)
}

// TriggerTransmit forces one transmit firing. It is a no-op in rx mode.
func (p *Pipeline) TriggerTransmit() {
	if p.runner != nil {
		p.runner.TriggerRun()
	}
}
