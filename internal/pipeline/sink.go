package pipeline

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/report"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

// Sink consumes engine completions, logs and reports the outcome and
// releases the record. It never blocks on a reporter.
type Sink struct {
	store   *record.Store
	queue   *report.Queue
	metrics *Metrics
	workers int
	wg      sync.WaitGroup
}

// NewSink creates a sink. queue may be nil.
func NewSink(store *record.Store, queue *report.Queue, m *Metrics, workers int) *Sink {
	if workers <= 0 {
		workers = 1
	}
	return &Sink{store: store, queue: queue, metrics: m, workers: workers}
}

// Start consumes completions until the channel is closed.
func (s *Sink) Start(completions <-chan secmsg.Completion) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for c := range completions {
				s.consume(c)
			}
		}()
	}
}

// Wait blocks until every worker has drained the completion channel.
func (s *Sink) Wait() {
	s.wg.Wait()
}

func (s *Sink) consume(c secmsg.Completion) {
	rec, err := s.store.Claim(c.Token)
	if err != nil {
		s.metrics.StaleCompletions.Add(1)
		s.store.CountDefect()
		metrics.LifecycleDefectsTotal.Inc()
		slog.Error("completion for unknown record", "token", c.Token.String(), "error", err)
		return
	}

	res := c.Result
	rec.Result = &res
	rec.Stage = core.StageCompleted
	s.metrics.Completed.Add(1)
	if res.OK() {
		s.metrics.Verified.Add(1)
	} else {
		s.metrics.Failed.Add(1)
	}
	metrics.CompletionsTotal.WithLabelValues(res.Code.String(), res.Content.String()).Inc()
	if !rec.Meta.ReceivedAt.IsZero() {
		metrics.ProcessingLatencySeconds.Observe(time.Since(rec.Meta.ReceivedAt).Seconds())
	}

	logResult(rec)
	if s.queue != nil && !s.queue.Enqueue(newMessage(rec)) {
		s.metrics.ReportDrops.Add(1)
		metrics.ReportDropsTotal.Inc()
	}
	s.store.Release(rec)
}

func logResult(rec *record.Record) {
	res := rec.Result
	switch {
	case res.OK() && res.Content == core.ContentSigned:
		attrs := []any{"src", rec.Header.SrcMAC.String()}
		if !res.GenerationTime.IsZero() {
			attrs = append(attrs, "generation_time", res.GenerationTime)
		}
		if res.Location.Valid {
			lat, lon := res.Location.Degrees()
			attrs = append(attrs, "latitude", lat, "longitude", lon)
		}
		if res.Signer != core.SignerNone {
			attrs = append(attrs, "signer_type", res.Signer.String())
		}
		if res.HasAID {
			attrs = append(attrs, "aid", res.AID)
		}
		slog.Info("signed message verified", attrs...)
	case res.OK():
		slog.Info("unsecured message received",
			"src", rec.Header.SrcMAC.String(), "aid", rec.Header.AID, "payload_len", len(res.Data))
	default:
		slog.Warn("secured message failed processing",
			"src", rec.Header.SrcMAC.String(), "aid", rec.Header.AID, "result", res.Code.String())
	}
}

func newMessage(rec *record.Record) *report.Message {
	res := rec.Result
	labels := core.Labels{
		core.LabelAID:         strconv.FormatUint(uint64(rec.Header.AID), 10),
		core.LabelSrcMAC:      rec.Header.SrcMAC.String(),
		core.LabelContentType: res.Content.String(),
		core.LabelResult:      res.Code.String(),
	}
	if rec.Header.HasChannel {
		labels[core.LabelChannel] = strconv.Itoa(int(rec.Header.Channel))
	}
	if rec.Header.HasDataRate {
		labels[core.LabelDataRate] = strconv.Itoa(int(rec.Header.DataRate))
	}
	if rec.Header.HasTxPower {
		labels[core.LabelTxPower] = strconv.Itoa(int(rec.Header.TxPower))
	}
	if res.Signer != core.SignerNone {
		labels[core.LabelSignerType] = res.Signer.String()
	}
	if !res.GenerationTime.IsZero() {
		labels[core.LabelGenerationTime] = res.GenerationTime.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	}
	if res.Location.Valid {
		lat, lon := res.Location.Degrees()
		labels[core.LabelLatitude] = strconv.FormatFloat(lat, 'f', 7, 64)
		labels[core.LabelLongitude] = strconv.FormatFloat(lon, 'f', 7, 64)
	}
	return &report.Message{
		Timestamp:  rec.Meta.ReceivedAt,
		Interface:  rec.Meta.Interface,
		Source:     rec.Meta.Source,
		AID:        rec.Header.AID,
		Result:     res.Code,
		Content:    res.Content,
		PayloadLen: len(res.Data),
		Labels:     labels,
	}
}
