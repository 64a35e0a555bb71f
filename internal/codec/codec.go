// Package codec implements the link-layer frame codec: Ethernet II, an
// optional 802.1Q priority tag and a WSMP header in front of the payload.
package codec

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	// DefaultMTU is the link MTU used when a profile leaves it unset.
	DefaultMTU = 1500
)

var (
	BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	zeroMAC      = net.HardwareAddr{0, 0, 0, 0, 0, 0}
)

// Codec encodes payloads into frames and decodes frames back into headers
// and payloads. It holds no per-call state and is safe for concurrent use.
type Codec struct {
	opts gopacket.SerializeOptions
}

// New creates a codec.
func New() *Codec {
	return &Codec{opts: gopacket.SerializeOptions{FixLengths: true}}
}

// MaxPayload returns the largest payload Encode accepts for profile.
func (c *Codec) MaxPayload(profile core.TransmitProfile) int {
	w := wsmpFor(profile)
	mtu := profile.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if limit := mtu - w.HeaderLen(MaxCount); limit >= 0x80 {
		return min(limit, MaxCount)
	}
	// Payloads below 128 bytes use a one-octet length field.
	return max(min(mtu-w.HeaderLen(0), 0x7F), 0)
}

// Encode serializes payload under profile into a transmit frame.
func (c *Codec) Encode(profile core.TransmitProfile, payload []byte) ([]byte, error) {
	if limit := c.MaxPayload(profile); len(payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d for mtu %d",
			core.ErrPayloadTooLarge, len(payload), limit, profile.MTU)
	}

	eth := &layers.Ethernet{
		SrcMAC:       macOr(profile.Source, zeroMAC),
		DstMAC:       macOr(profile.Destination, BroadcastMAC),
		EthernetType: EthernetTypeWSMP,
	}
	stack := []gopacket.SerializableLayer{eth}
	if profile.Priority > 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			Priority: profile.Priority & 0x07,
			Type:     EthernetTypeWSMP,
		})
	}
	stack = append(stack, wsmpFor(profile), gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, c.opts, stack...); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses frame into its header fields and payload. The returned
// payload and MAC addresses are views into frame.
func (c *Codec) Decode(frame []byte) (core.Header, []byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return core.Header{}, nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	h := core.Header{SrcMAC: eth.SrcMAC, DstMAC: eth.DstMAC}

	next, rest := eth.EthernetType, eth.Payload
	if next == layers.EthernetTypeDot1Q {
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(rest, gopacket.NilDecodeFeedback); err != nil {
			return core.Header{}, nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
		}
		h.Tagged, h.Priority = true, tag.Priority
		next, rest = tag.Type, tag.Payload
	}
	if next != EthernetTypeWSMP {
		return core.Header{}, nil, fmt.Errorf("%w: ethertype %#04x", core.ErrUnexpectedFormat, uint16(next))
	}

	var w WSMP
	if err := w.DecodeFromBytes(rest, gopacket.NilDecodeFeedback); err != nil {
		return core.Header{}, nil, err
	}
	h.Version = w.Version
	h.AID = w.PSID
	h.Channel, h.HasChannel = w.Channel, w.HasChannel
	h.DataRate, h.HasDataRate = w.DataRate, w.HasDataRate
	h.TxPower, h.HasTxPower = w.TxPower, w.HasTxPower
	return h, w.Payload, nil
}

// Describe renders a human-readable layer dump of frame for debug logs.
func Describe(frame []byte) string {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy).Dump()
}

func wsmpFor(profile core.TransmitProfile) *WSMP {
	return &WSMP{
		Version:     WSMPVersion,
		PSID:        profile.AID,
		Channel:     profile.Channel,
		DataRate:    profile.DataRate,
		TxPower:     profile.TxPower,
		HasChannel:  profile.Channel != 0,
		HasDataRate: profile.DataRate != 0,
		HasTxPower:  profile.TxPower != 0,
	}
}

func macOr(mac, fallback net.HardwareAddr) net.HardwareAddr {
	if len(mac) == 6 {
		return mac
	}
	return fallback
}
