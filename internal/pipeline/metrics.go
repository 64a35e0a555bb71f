// Package pipeline implements pipeline metrics.
package pipeline

import (
	"sync/atomic"
)

// Metrics contains pipeline counters.
type Metrics struct {
	// Receive path
	Received       atomic.Uint64
	AllocFailures  atomic.Uint64
	DecodeErrors   atomic.Uint64
	FilteredOut    atomic.Uint64
	Submitted      atomic.Uint64
	SubmitRejected atomic.Uint64

	// Completion path
	Completed        atomic.Uint64
	Verified         atomic.Uint64
	Failed           atomic.Uint64
	StaleCompletions atomic.Uint64
	ReportDrops      atomic.Uint64

	// Transmit path
	Firings         atomic.Uint64
	TxAllocFailures atomic.Uint64
	ConstructErrors atomic.Uint64
	EncodeErrors    atomic.Uint64
	TransmitErrors  atomic.Uint64
	Transmitted     atomic.Uint64
	Looped          atomic.Uint64
}

// Stats represents pipeline statistics.
type Stats struct {
	Received       uint64
	AllocFailures  uint64
	DecodeErrors   uint64
	FilteredOut    uint64
	Submitted      uint64
	SubmitRejected uint64

	Completed        uint64
	Verified         uint64
	Failed           uint64
	StaleCompletions uint64
	ReportDrops      uint64

	Firings         uint64
	TxAllocFailures uint64
	ConstructErrors uint64
	EncodeErrors    uint64
	TransmitErrors  uint64
	Transmitted     uint64
	Looped          uint64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Received:         m.Received.Load(),
		AllocFailures:    m.AllocFailures.Load(),
		DecodeErrors:     m.DecodeErrors.Load(),
		FilteredOut:      m.FilteredOut.Load(),
		Submitted:        m.Submitted.Load(),
		SubmitRejected:   m.SubmitRejected.Load(),
		Completed:        m.Completed.Load(),
		Verified:         m.Verified.Load(),
		Failed:           m.Failed.Load(),
		StaleCompletions: m.StaleCompletions.Load(),
		ReportDrops:      m.ReportDrops.Load(),
		Firings:          m.Firings.Load(),
		TxAllocFailures:  m.TxAllocFailures.Load(),
		ConstructErrors:  m.ConstructErrors.Load(),
		EncodeErrors:     m.EncodeErrors.Load(),
		TransmitErrors:   m.TransmitErrors.Load(),
		Transmitted:      m.Transmitted.Load(),
		Looped:           m.Looped.Load(),
	}
}
