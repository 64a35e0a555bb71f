// Package core defines core data structures with zero external dependencies.
package core

import (
	"net"
	"time"
)

// Stage tags where a packet record currently is in its journey.
type Stage uint8

const (
	StageReceived Stage = iota
	StageDecoded
	StageFilteredOut
	StageInteresting
	StageSubmitted
	StageCompleted
	StageConstructed // transmit record holds a secured message
	StageEncoded     // transmit record holds a link-layer frame
	StageReleased
)

var stageNames = [...]string{
	StageReceived:    "received",
	StageDecoded:     "decoded",
	StageFilteredOut: "filtered_out",
	StageInteresting: "interesting",
	StageSubmitted:   "submitted",
	StageCompleted:   "completed",
	StageConstructed: "constructed",
	StageEncoded:     "encoded",
	StageReleased:    "released",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Header holds the link-layer and WSMP fields decoded from a frame.
type Header struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	// Priority is the 802.1Q user priority (0 when the frame is untagged).
	Priority uint8
	Tagged   bool

	Version uint8
	AID     uint32 // PSID

	// Optional WSMP extension elements; zero when absent.
	Channel     uint8
	DataRate    uint8 // 500 kbit/s units
	TxPower     int8  // dBm
	HasChannel  bool
	HasDataRate bool
	HasTxPower  bool
}

// RxMeta is the metadata a transport attaches to an inbound frame.
type RxMeta struct {
	Interface  string
	ReceivedAt time.Time
	Source     string // transport-level source (e.g. overlay peer address)
}

// TxParams are the per-frame radio parameters handed to a transport.
type TxParams struct {
	Channel  uint8
	DataRate uint8
	TxPower  int8
	Priority uint8
}
