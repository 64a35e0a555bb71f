package codec

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	// WSMPVersion is the only WSMP version this codec understands.
	WSMPVersion = 3

	// WAVE information element identifiers carried in the WSMP extension.
	ElementTxPower  = 4
	ElementChannel  = 15
	ElementDataRate = 16

	wsmpMinLen   = 4 // version, tpid, 1-octet psid, 1-octet length
	optionBit    = 0x08
	txPowerShift = 128 // tx power is carried as dBm + 128
)

// WSMP is the WAVE Short Message Protocol header (N-Header + T-Header).
type WSMP struct {
	layers.BaseLayer

	Subtype uint8
	Version uint8
	TPID    uint8
	PSID    uint32
	Length  uint16

	Channel     uint8
	DataRate    uint8
	TxPower     int8
	HasChannel  bool
	HasDataRate bool
	HasTxPower  bool
}

func (w *WSMP) LayerType() gopacket.LayerType {
	return LayerTypeWSMP
}

func (w *WSMP) CanDecode() gopacket.LayerClass {
	return LayerClassWSMP
}

func (w *WSMP) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// DecodeFromBytes implements the gopacket.DecodingLayer.DecodeFromBytes method.
// Trailing bytes beyond the WSM length (Ethernet padding) are not part of the payload.
func (w *WSMP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < wsmpMinLen {
		df.SetTruncated()
		return fmt.Errorf("%w: wsmp header %d bytes", core.ErrMalformedFrame, len(data))
	}
	*w = WSMP{}
	w.Subtype = data[0] >> 4
	w.Version = data[0] & 0x07
	if w.Version != WSMPVersion {
		return fmt.Errorf("%w: wsmp version %d", core.ErrUnexpectedFormat, w.Version)
	}
	if w.Subtype != 0 {
		return fmt.Errorf("%w: wsmp subtype %d", core.ErrUnexpectedFormat, w.Subtype)
	}
	off := 1
	if data[0]&optionBit != 0 {
		n, err := w.decodeExtension(data[off:])
		if err != nil {
			return err
		}
		off += n
	}

	if len(data) < off+1 {
		df.SetTruncated()
		return fmt.Errorf("%w: missing tpid", core.ErrMalformedFrame)
	}
	w.TPID = data[off]
	off++
	if w.TPID != 0 {
		return fmt.Errorf("%w: wsmp tpid %d", core.ErrUnexpectedFormat, w.TPID)
	}

	psid, n, err := DecodePSID(data[off:])
	if err != nil {
		return err
	}
	w.PSID = psid
	off += n

	length, n, err := decodeCount(data[off:])
	if err != nil {
		return err
	}
	off += n
	if len(data)-off < length {
		df.SetTruncated()
		return fmt.Errorf("%w: wsm length %d exceeds %d remaining bytes",
			core.ErrMalformedFrame, length, len(data)-off)
	}
	w.Length = uint16(length)
	w.BaseLayer = layers.BaseLayer{Contents: data[:off], Payload: data[off : off+length]}
	return nil
}

func (w *WSMP) decodeExtension(data []byte) (int, error) {
	count, off, err := decodeCount(data)
	if err != nil {
		return 0, err
	}
	for i := 0; i < count; i++ {
		if len(data) < off+1 {
			return 0, fmt.Errorf("%w: truncated extension element", core.ErrMalformedFrame)
		}
		id := data[off]
		l, n, err := decodeCount(data[off+1:])
		if err != nil {
			return 0, err
		}
		off += 1 + n
		if len(data) < off+l {
			return 0, fmt.Errorf("%w: extension element %d truncated", core.ErrMalformedFrame, id)
		}
		val := data[off : off+l]
		off += l

		switch id {
		case ElementChannel, ElementDataRate, ElementTxPower:
			if l != 1 {
				return 0, fmt.Errorf("%w: extension element %d length %d", core.ErrMalformedFrame, id, l)
			}
		default:
			continue // unknown elements are skipped
		}
		switch id {
		case ElementChannel:
			w.Channel, w.HasChannel = val[0], true
		case ElementDataRate:
			w.DataRate, w.HasDataRate = val[0], true
		case ElementTxPower:
			w.TxPower, w.HasTxPower = int8(int(val[0])-txPowerShift), true
		}
	}
	return off, nil
}

func (w *WSMP) extensionCount() int {
	n := 0
	for _, present := range []bool{w.HasChannel, w.HasDataRate, w.HasTxPower} {
		if present {
			n++
		}
	}
	return n
}

// HeaderLen returns the encoded header size for a payload of payloadLen bytes.
func (w *WSMP) HeaderLen(payloadLen int) int {
	n := 2 + PSIDLen(w.PSID) + countLen(payloadLen) // version, tpid, psid, length
	if ext := w.extensionCount(); ext > 0 {
		n += countLen(ext) + ext*3
	}
	return n
}

func (w *WSMP) appendHeader(b []byte) ([]byte, error) {
	first := w.Subtype<<4 | w.Version&0x07
	ext := w.extensionCount()
	if ext > 0 {
		first |= optionBit
	}
	b = append(b, first)
	if ext > 0 {
		b, _ = appendCount(b, ext)
		if w.HasChannel {
			b = append(b, ElementChannel, 1, w.Channel)
		}
		if w.HasDataRate {
			b = append(b, ElementDataRate, 1, w.DataRate)
		}
		if w.HasTxPower {
			b = append(b, ElementTxPower, 1, byte(int(w.TxPower)+txPowerShift))
		}
	}
	b = append(b, w.TPID)
	b, err := AppendPSID(b, w.PSID)
	if err != nil {
		return nil, err
	}
	return appendCount(b, int(w.Length))
}

// SerializeTo writes the WSMP header in front of the already serialized payload.
func (w *WSMP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if opts.FixLengths {
		payloadLen := len(b.Bytes())
		if payloadLen > MaxCount {
			return fmt.Errorf("%w: wsm length %d exceeds %d", core.ErrPayloadTooLarge, payloadLen, MaxCount)
		}
		w.Length = uint16(payloadLen)
	}
	hdr, err := w.appendHeader(make([]byte, 0, 16))
	if err != nil {
		return err
	}
	bytes, err := b.PrependBytes(len(hdr))
	if err != nil {
		return err
	}
	copy(bytes, hdr)
	return nil
}

func (w *WSMP) String() string {
	return fmt.Sprintf("Version=%d, PSID=%d, Length=%d", w.Version, w.PSID, w.Length)
}

func decodeWSMP(data []byte, pb gopacket.PacketBuilder) error {
	w := &WSMP{}
	err := w.DecodeFromBytes(data, pb)
	pb.AddLayer(w)
	if err != nil {
		return err
	}
	return pb.NextDecoder(gopacket.LayerTypePayload)
}
