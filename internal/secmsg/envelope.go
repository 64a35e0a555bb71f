package secmsg

import (
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"firestige.xyz/v2xtrx/internal/core"
)

const envelopeVersion = 3

// epoch is the origin of generation times: 2004-01-01 00:00:00 UTC.
var epoch = time.Date(2004, time.January, 1, 0, 0, 0, 0, time.UTC)

// envelope is the wire form of a secured message:
//
//	u8  version
//	u8  content type
//	unsecured: u16-prefixed payload
//	signed:    u16-prefixed tbs, u8 signer type, u8-prefixed signer id,
//	           u8-prefixed signature
//
// tbs is a u16-prefixed payload, u32 psid, u64 generation time in
// microseconds since epoch and an optional location (u8 flag, i32 lat,
// i32 lon, u16 elevation).
type envelope struct {
	Content core.ContentType
	Payload []byte

	PSID           uint32
	GenerationTime time.Time
	Location       core.Position

	Signer    core.SignerType
	SignerID  []byte
	Signature []byte

	// tbs is the signed portion as it appeared on the wire.
	tbs []byte
}

func toMicros(t time.Time) uint64 {
	if t.Before(epoch) {
		return 0
	}
	return uint64(t.Sub(epoch) / time.Microsecond)
}

func fromMicros(us uint64) time.Time {
	return epoch.Add(time.Duration(us) * time.Microsecond)
}

func marshalUnsecured(payload []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(envelopeVersion)
	b.AddUint8(uint8(core.ContentUnsecured))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(payload)
	})
	return b.Bytes()
}

// marshalTBS encodes the to-be-signed portion of env.
func marshalTBS(env *envelope) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(env.Payload)
	})
	b.AddUint32(env.PSID)
	b.AddUint64(toMicros(env.GenerationTime))
	if env.Location.Valid {
		b.AddUint8(1)
		b.AddUint32(uint32(env.Location.Latitude))
		b.AddUint32(uint32(env.Location.Longitude))
		b.AddUint16(env.Location.Elevation)
	} else {
		b.AddUint8(0)
	}
	return b.Bytes()
}

func marshalSigned(env *envelope) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(envelopeVersion)
	b.AddUint8(uint8(core.ContentSigned))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(env.tbs)
	})
	b.AddUint8(uint8(env.Signer))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(env.SignerID)
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(env.Signature)
	})
	return b.Bytes()
}

func parseEnvelope(data []byte) (*envelope, error) {
	s := cryptobyte.String(data)
	var version, content uint8
	if !s.ReadUint8(&version) || !s.ReadUint8(&content) {
		return nil, fmt.Errorf("%w: truncated header", core.ErrMalformedSPDU)
	}
	if version != envelopeVersion {
		return nil, fmt.Errorf("%w: version %d", core.ErrMalformedSPDU, version)
	}

	env := &envelope{Content: core.ContentType(content)}
	switch env.Content {
	case core.ContentUnsecured:
		var payload cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&payload) || !s.Empty() {
			return nil, fmt.Errorf("%w: unsecured payload", core.ErrMalformedSPDU)
		}
		env.Payload = payload
		return env, nil
	case core.ContentSigned:
	default:
		return nil, fmt.Errorf("%w: content type %d", core.ErrMalformedSPDU, content)
	}

	var tbs, signerID, sig cryptobyte.String
	var signer uint8
	if !s.ReadUint16LengthPrefixed(&tbs) ||
		!s.ReadUint8(&signer) ||
		!s.ReadUint8LengthPrefixed(&signerID) ||
		!s.ReadUint8LengthPrefixed(&sig) ||
		!s.Empty() {
		return nil, fmt.Errorf("%w: signed data", core.ErrMalformedSPDU)
	}
	env.tbs = tbs
	env.Signer = core.SignerType(signer)
	env.SignerID = signerID
	env.Signature = sig

	var payload cryptobyte.String
	var generation uint64
	var hasLocation uint8
	if !tbs.ReadUint16LengthPrefixed(&payload) ||
		!tbs.ReadUint32(&env.PSID) ||
		!tbs.ReadUint64(&generation) ||
		!tbs.ReadUint8(&hasLocation) {
		return nil, fmt.Errorf("%w: to-be-signed data", core.ErrMalformedSPDU)
	}
	env.Payload = payload
	env.GenerationTime = fromMicros(generation)
	if hasLocation == 1 {
		var lat, lon uint32
		if !tbs.ReadUint32(&lat) || !tbs.ReadUint32(&lon) || !tbs.ReadUint16(&env.Location.Elevation) {
			return nil, fmt.Errorf("%w: location", core.ErrMalformedSPDU)
		}
		env.Location.Latitude = int32(lat)
		env.Location.Longitude = int32(lon)
		env.Location.Valid = true
	}
	if !tbs.Empty() {
		return nil, fmt.Errorf("%w: trailing to-be-signed data", core.ErrMalformedSPDU)
	}
	return env, nil
}
