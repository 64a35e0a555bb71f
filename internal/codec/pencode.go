package codec

import (
	"fmt"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	// MaxCount is the largest value a p-encoded count/length can carry.
	MaxCount = 1<<14 - 1

	// MaxPSID is the largest PSID representable in four octets.
	MaxPSID = 0x1020407F

	psid2Base = 0x80
	psid3Base = 0x4080
	psid4Base = 0x204080
)

// appendCount appends n as a one or two octet p-encoded count.
func appendCount(b []byte, n int) ([]byte, error) {
	switch {
	case n < 0 || n > MaxCount:
		return b, fmt.Errorf("%w: count %d exceeds %d", core.ErrPayloadTooLarge, n, MaxCount)
	case n < 0x80:
		return append(b, byte(n)), nil
	default:
		return append(b, 0x80|byte(n>>8), byte(n)), nil
	}
}

// countLen returns the encoded size of n.
func countLen(n int) int {
	if n < 0x80 {
		return 1
	}
	return 2
}

// decodeCount reads a p-encoded count and returns it with the bytes consumed.
func decodeCount(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("%w: missing count", core.ErrMalformedFrame)
	}
	switch {
	case b[0]&0x80 == 0:
		return int(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("%w: truncated count", core.ErrMalformedFrame)
		}
		return int(b[0]&0x3F)<<8 | int(b[1]), 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: count prefix %#02x", core.ErrMalformedFrame, b[0])
	}
}

// PSIDLen returns the number of octets psid occupies on the wire.
func PSIDLen(psid uint32) int {
	switch {
	case psid < psid2Base:
		return 1
	case psid < psid3Base:
		return 2
	case psid < psid4Base:
		return 3
	default:
		return 4
	}
}

// AppendPSID appends the p-encoded form of psid.
func AppendPSID(b []byte, psid uint32) ([]byte, error) {
	switch {
	case psid > MaxPSID:
		return b, fmt.Errorf("%w: psid %#x out of range", core.ErrConfigInvalid, psid)
	case psid < psid2Base:
		return append(b, byte(psid)), nil
	case psid < psid3Base:
		v := psid - psid2Base
		return append(b, 0x80|byte(v>>8), byte(v)), nil
	case psid < psid4Base:
		v := psid - psid3Base
		return append(b, 0xC0|byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		v := psid - psid4Base
		return append(b, 0xE0|byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	}
}

// DecodePSID reads a p-encoded PSID and returns it with the bytes consumed.
func DecodePSID(b []byte) (uint32, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("%w: missing psid", core.ErrMalformedFrame)
	}
	var n int
	var base, v uint32
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		n, base, v = 2, psid2Base, uint32(b[0]&0x3F)
	case b[0]&0xE0 == 0xC0:
		n, base, v = 3, psid3Base, uint32(b[0]&0x1F)
	case b[0]&0xF0 == 0xE0:
		n, base, v = 4, psid4Base, uint32(b[0]&0x0F)
	default:
		return 0, 0, fmt.Errorf("%w: psid prefix %#02x", core.ErrMalformedFrame, b[0])
	}
	if len(b) < n {
		return 0, 0, fmt.Errorf("%w: truncated psid", core.ErrMalformedFrame)
	}
	for _, c := range b[1:n] {
		v = v<<8 | uint32(c)
	}
	return v + base, n, nil
}
