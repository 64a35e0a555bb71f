// Package record implements the packet record store: the single owner of
// every per-packet lifecycle record and the only place records are released.
package record

import (
	"fmt"

	"firestige.xyz/v2xtrx/internal/core"
)

// Token is the correlation token handed to the secure-message engine in
// place of a record pointer. It encodes the slot index in the low 32 bits
// and the slot generation in the high 32 bits.
type Token uint64

func newToken(index, gen uint32) Token {
	return Token(uint64(gen)<<32 | uint64(index))
}

func (t Token) index() uint32 { return uint32(t) }

func (t Token) generation() uint32 { return uint32(t >> 32) }

func (t Token) String() string {
	return fmt.Sprintf("%d/%d", t.index(), t.generation())
}

// Record is the mutable per-packet state that travels through the pipeline.
// Exactly one component owns a record at a time; it must not be touched
// after it has been handed off or released.
type Record struct {
	// Raw is the store-owned copy of the frame (or transmit payload).
	Raw []byte
	// Header holds decoded link-layer fields.
	Header core.Header
	// Payload is a view into Raw.
	Payload []byte
	Stage   core.Stage
	Meta    core.RxMeta
	// Secured holds the constructed secured message of a transmit record.
	Secured []byte
	// Result is set only by the completion sink.
	Result *core.Result

	token Token
	buf   *[]byte
}

// Token returns the record's correlation token.
func (r *Record) Token() Token {
	return r.token
}

func (r *Record) reset() {
	r.Raw = nil
	r.Header = core.Header{}
	r.Payload = nil
	r.Meta = core.RxMeta{}
	r.Secured = nil
	r.Result = nil
	r.buf = nil
	r.Stage = core.StageReleased
}
