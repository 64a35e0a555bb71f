// Package core defines core types with zero external dependencies.
package core

import (
	"net"
	"time"
)

// Mode selects how the pipeline operates.
type Mode string

const (
	ModeTRX      Mode = "trx"      // transmit and receive over the transport
	ModeRX       Mode = "rx"       // receive only
	ModeLoopback Mode = "loopback" // transmit straight into the receive path
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeTRX, ModeRX, ModeLoopback:
		return true
	}
	return false
}

// Transmits reports whether the mode runs the transmit scheduler.
func (m Mode) Transmits() bool {
	return m == ModeTRX || m == ModeLoopback
}

// Position is a WGS84 location in 1/10 micro-degree and decimetre units.
type Position struct {
	Latitude  int32  // 1/10 micro-degree
	Longitude int32  // 1/10 micro-degree
	Elevation uint16 // decimetres, offset by 4096
	Valid     bool
}

// NewPosition converts degrees and metres into a Position.
func NewPosition(lat, lon, elevation float64) Position {
	e := elevation*10 + 4096
	if e < 0 {
		e = 0
	}
	if e > 65535 {
		e = 65535
	}
	return Position{
		Latitude:  int32(lat * 1e7),
		Longitude: int32(lon * 1e7),
		Elevation: uint16(e),
		Valid:     true,
	}
}

// Degrees returns latitude and longitude in degrees.
func (p Position) Degrees() (lat, lon float64) {
	return float64(p.Latitude) / 1e7, float64(p.Longitude) / 1e7
}

// TransmitProfile is the immutable transmit configuration snapshot read on
// every scheduler firing.
type TransmitProfile struct {
	AID         uint32
	Channel     uint8
	DataRate    uint8
	TxPower     int8
	Priority    uint8
	Source      net.HardwareAddr
	Destination net.HardwareAddr
	Interface   string

	PayloadLen   int
	Interval     time.Duration
	InitialDelay time.Duration
	Signed       bool
	MTU          int
	Position     Position
}

// TxParams derives per-frame radio parameters from the profile.
func (p TransmitProfile) TxParams() TxParams {
	return TxParams{
		Channel:  p.Channel,
		DataRate: p.DataRate,
		TxPower:  p.TxPower,
		Priority: p.Priority,
	}
}
