package pipeline

import (
	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/filter"
	"firestige.xyz/v2xtrx/internal/link"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/report"
	"firestige.xyz/v2xtrx/internal/scheduler"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder(mode core.Mode) *Builder {
	return &Builder{
		config: Config{
			Mode:        mode,
			SinkWorkers: 1,
		},
	}
}

// WithProfile sets the transmit profile.
func (b *Builder) WithProfile(p core.TransmitProfile) *Builder {
	b.config.Profile = p
	return b
}

// WithStore sets the packet record store.
func (b *Builder) WithStore(s *record.Store) *Builder {
	b.config.Store = s
	return b
}

// WithCodec sets the frame codec.
func (b *Builder) WithCodec(c *codec.Codec) *Builder {
	b.config.Codec = c
	return b
}

// WithFilter sets the interest filter.
func (b *Builder) WithFilter(f filter.Filter) *Builder {
	b.config.Filter = f
	return b
}

// WithEngine sets the secure-message engine.
func (b *Builder) WithEngine(e secmsg.Engine) *Builder {
	b.config.Engine = e
	return b
}

// WithTransport sets the link-layer transport.
func (b *Builder) WithTransport(t link.Transport) *Builder {
	b.config.Transport = t
	return b
}

// WithReporters sets the reporter queue.
func (b *Builder) WithReporters(q *report.Queue) *Builder {
	b.config.Queue = q
	return b
}

// WithSinkWorkers sets the number of completion sink workers.
func (b *Builder) WithSinkWorkers(n int) *Builder {
	b.config.SinkWorkers = n
	return b
}

// WithTicker overrides the transmit ticker.
func (b *Builder) WithTicker(t scheduler.Ticker) *Builder {
	b.config.Ticker = t
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
