package pipeline

import (
	"context"
	"log/slog"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/filter"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// Dispatcher is the inbound entry point: it chains decode, interest
// filtering and submission to the secure-message engine.
type Dispatcher struct {
	ctx     context.Context
	store   *record.Store
	codec   *codec.Codec
	filter  filter.Filter
	engine  secmsg.Engine
	metrics *Metrics
}

// NewDispatcher creates a dispatcher. ctx is passed to engine submissions.
func NewDispatcher(ctx context.Context, store *record.Store, c *codec.Codec, f filter.Filter, engine secmsg.Engine, m *Metrics) *Dispatcher {
	return &Dispatcher{ctx: ctx, store: store, codec: c, filter: f, engine: engine, metrics: m}
}

// HandleFrame processes one inbound frame. The frame is copied, so the
// caller may reuse it once HandleFrame returns.
func (d *Dispatcher) HandleFrame(frame []byte, meta core.RxMeta) {
	d.metrics.Received.Add(1)
	rec, err := d.store.Allocate(frame)
	if err != nil {
		d.metrics.AllocFailures.Add(1)
		metrics.RxFramesTotal.WithLabelValues(metrics.StageAllocFailed).Inc()
		slog.Debug("dropping frame", "len", len(frame), "interface", meta.Interface, "error", err)
		return
	}
	rec.Meta = meta
	if !d.dispatch(rec) {
		d.store.Release(rec)
	}
}

// dispatch reports whether ownership of rec moved into the engine. When
// it did, rec must not be touched again.
func (d *Dispatcher) dispatch(rec *record.Record) bool {
	hdr, payload, err := d.codec.Decode(rec.Raw)
	if err != nil {
		d.metrics.DecodeErrors.Add(1)
		metrics.RxFramesTotal.WithLabelValues(metrics.StageDecodeError).Inc()
		slog.Debug("frame discarded", "len", len(rec.Raw), "interface", rec.Meta.Interface, "error", err)
		return false
	}
	rec.Header, rec.Payload, rec.Stage = hdr, payload, core.StageDecoded

	if !d.filter.Interesting(hdr) {
		rec.Stage = core.StageFilteredOut
		d.metrics.FilteredOut.Add(1)
		metrics.RxFramesTotal.WithLabelValues(metrics.StageFilteredOut).Inc()
		slog.Debug("frame filtered out", "aid", hdr.AID, "src", hdr.SrcMAC.String())
		return false
	}
	rec.Stage = core.StageInteresting

	req := secmsg.Request{
		Token: rec.Token(),
		Data:  rec.Payload,
		Context: secmsg.ProcessContext{
			AID:        hdr.AID,
			Interface:  rec.Meta.Interface,
			ReceivedAt: rec.Meta.ReceivedAt,
		},
	}
	rec.Stage = core.StageSubmitted
	if err := d.engine.Submit(d.ctx, req); err != nil {
		d.metrics.SubmitRejected.Add(1)
		metrics.RxFramesTotal.WithLabelValues(metrics.StageSubmitRejected).Inc()
		slog.Debug("submission rejected", "aid", hdr.AID, "error", err)
		return false
	}
	d.metrics.Submitted.Add(1)
	metrics.RxFramesTotal.WithLabelValues(metrics.StageSubmitted).Inc()
	return true
}
