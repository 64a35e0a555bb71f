// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RxFramesTotal counts inbound frames by the stage that ended their journey
	RxFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v2xtrx_rx_frames_total",
			Help: "Total number of inbound frames by terminal stage",
		},
		[]string{"stage"},
	)

	// TxFiringsTotal counts transmit scheduler firings by outcome
	TxFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v2xtrx_tx_firings_total",
			Help: "Total number of transmit firings by outcome",
		},
		[]string{"outcome"},
	)

	// CompletionsTotal counts secure-message completions by result code
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "v2xtrx_completions_total",
			Help: "Total number of secure-message completions by result",
		},
		[]string{"result", "content"},
	)

	// ProcessingLatencySeconds measures the time from frame arrival to completion
	ProcessingLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "v2xtrx_processing_latency_seconds",
			Help:    "Latency from frame arrival to secure-message completion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 24), // 1µs to ~8s
		},
	)

	// LiveRecords tracks packet records currently owned by some stage
	LiveRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "v2xtrx_live_records",
			Help: "Number of packet records currently alive",
		},
	)

	// LifecycleDefectsTotal counts double releases and stale completions
	LifecycleDefectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "v2xtrx_lifecycle_defects_total",
			Help: "Total number of packet record lifecycle defects",
		},
	)

	// ReportDropsTotal counts messages dropped because the reporter queue was full
	ReportDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "v2xtrx_report_drops_total",
			Help: "Total number of messages dropped by the reporter queue",
		},
	)
)

// Rx stage and tx outcome label values
const (
	StageAllocFailed    = "alloc_failed"
	StageDecodeError    = "decode_error"
	StageFilteredOut    = "filtered_out"
	StageSubmitRejected = "submit_rejected"
	StageSubmitted      = "submitted"

	OutcomeSent           = "sent"
	OutcomeLooped         = "looped"
	OutcomeConstructError = "construct_error"
	OutcomeEncodeError    = "encode_error"
	OutcomeTransmitError  = "transmit_error"
	OutcomeAllocFailed    = "alloc_failed"
)
