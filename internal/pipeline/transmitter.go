package pipeline

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync/atomic"
	"time"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/link"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// DefaultPayloadLen is used when the profile leaves the payload length unset.
const DefaultPayloadLen = 40

// LoopbackInterface names the pseudo interface of looped-back frames.
const LoopbackInterface = "loopback"

// Transmitter is the task run on every transmit scheduler firing.
type Transmitter struct {
	profile   core.TransmitProfile
	store     *record.Store
	codec     *codec.Codec
	engine    secmsg.Engine
	transport link.Transport
	loopback  link.InboundFunc
	metrics   *Metrics
	seq       atomic.Uint32
}

// NewTransmitter creates a transmitter that sends through transport, or
// hands frames to loopback when it is non-nil.
func NewTransmitter(profile core.TransmitProfile, store *record.Store, c *codec.Codec, engine secmsg.Engine,
	transport link.Transport, loopback link.InboundFunc, m *Metrics) *Transmitter {
	return &Transmitter{
		profile:   profile,
		store:     store,
		codec:     c,
		engine:    engine,
		transport: transport,
		loopback:  loopback,
		metrics:   m,
	}
}

func (t *Transmitter) Name() string { return "transmit" }

// Run performs one firing: construct, encode, then transmit or loop back.
// A failing step is logged and the firing skipped. The transmit record is
// released on every exit.
func (t *Transmitter) Run(ctx context.Context) {
	t.metrics.Firings.Add(1)
	rec, err := t.store.Allocate(t.payload())
	if err != nil {
		t.metrics.TxAllocFailures.Add(1)
		metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeAllocFailed).Inc()
		slog.Warn("transmit skipped", "error", err)
		return
	}
	defer t.store.Release(rec)

	secured, err := t.engine.Construct(ctx, t.profile, rec.Raw)
	if err != nil {
		t.metrics.ConstructErrors.Add(1)
		metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeConstructError).Inc()
		slog.Warn("construct failed, skipping transmit", "aid", t.profile.AID, "error", err)
		return
	}
	rec.Secured, rec.Stage = secured, core.StageConstructed

	frame, err := t.codec.Encode(t.profile, secured)
	if err != nil {
		t.metrics.EncodeErrors.Add(1)
		metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeEncodeError).Inc()
		slog.Warn("encode failed, skipping transmit", "len", len(secured), "error", err)
		return
	}
	rec.Stage = core.StageEncoded

	if t.loopback != nil {
		t.loopback(frame, core.RxMeta{Interface: LoopbackInterface, ReceivedAt: time.Now()})
		t.metrics.Looped.Add(1)
		metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeLooped).Inc()
		return
	}
	if err := t.transport.Transmit(ctx, t.profile.Interface, frame, t.profile.TxParams()); err != nil {
		t.metrics.TransmitErrors.Add(1)
		metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeTransmitError).Inc()
		slog.Warn("transmit failed", "transport", t.transport.Name(), "error", err)
		return
	}
	t.metrics.Transmitted.Add(1)
	metrics.TxFiringsTotal.WithLabelValues(metrics.OutcomeSent).Inc()
	slog.Debug("frame transmitted", "aid", t.profile.AID, "len", len(frame))
}

// payload builds the application payload: a big-endian sequence number
// followed by a fill pattern. Payloads shorter than the sequence number
// carry its low-order bytes.
func (t *Transmitter) payload() []byte {
	n := t.profile.PayloadLen
	if n <= 0 {
		n = DefaultPayloadLen
	}
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], t.seq.Add(1))
	p := make([]byte, n)
	if n < len(seq) {
		copy(p, seq[len(seq)-n:])
		return p
	}
	copy(p, seq[:])
	for i := len(seq); i < n; i++ {
		p[i] = byte(i)
	}
	return p
}
