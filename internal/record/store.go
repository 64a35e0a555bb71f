package record

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	DefaultBufferSize = 2048
	DefaultMaxLive    = 4096

	// Buffers grown beyond this are not returned to the pool.
	maxPooledBuffer = 64 * 1024
)

// Options configures a Store.
type Options struct {
	// MaxLive bounds the number of records alive at once.
	MaxLive int
	// BufferSize is the initial capacity of pooled raw buffers.
	BufferSize int
	// Strict makes a double release panic instead of being counted.
	Strict bool
}

// Stats is a snapshot of store counters.
type Stats struct {
	Allocated uint64
	Released  uint64
	Live      int
	Exhausted uint64
	Defects   uint64
}

type slot struct {
	gen uint32
	rec *Record
}

// Store allocates packet records, resolves correlation tokens and releases
// records exactly once. It is safe for concurrent use.
type Store struct {
	opts Options
	pool sync.Pool

	mu      sync.Mutex
	slots   []slot
	free    []uint32
	live    int
	observe func(live int)

	allocated atomic.Uint64
	released  atomic.Uint64
	exhausted atomic.Uint64
	defects   atomic.Uint64
}

// NewStore creates a store.
func NewStore(opts Options) *Store {
	if opts.MaxLive <= 0 {
		opts.MaxLive = DefaultMaxLive
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	s := &Store{opts: opts}
	s.pool.New = func() any {
		b := make([]byte, 0, opts.BufferSize)
		return &b
	}
	return s
}

// Allocate copies raw into a store-owned buffer and returns a record in
// stage Received. It fails with core.ErrStoreExhausted when MaxLive records
// are alive; the caller must not proceed in that case.
func (s *Store) Allocate(raw []byte) (*Record, error) {
	s.mu.Lock()
	if s.live >= s.opts.MaxLive {
		s.mu.Unlock()
		s.exhausted.Add(1)
		return nil, fmt.Errorf("%w: %d live records", core.ErrStoreExhausted, s.opts.MaxLive)
	}
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{gen: 1})
	}
	rec := &Record{Stage: core.StageReceived}
	rec.token = newToken(idx, s.slots[idx].gen)
	s.slots[idx].rec = rec
	s.live++
	if s.observe != nil {
		s.observe(s.live)
	}
	s.mu.Unlock()

	buf := s.pool.Get().(*[]byte)
	if cap(*buf) < len(raw) {
		*buf = make([]byte, 0, len(raw))
	}
	*buf = append((*buf)[:0], raw...)
	rec.buf = buf
	rec.Raw = *buf

	s.allocated.Add(1)
	return rec, nil
}

// Observe registers fn to be called with the live record count after every
// allocation and release, and once immediately. fn runs under the store lock
// and must not call back into the store.
func (s *Store) Observe(fn func(live int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe = fn
	if fn != nil {
		fn(s.live)
	}
}

// Claim resolves a correlation token back into its live record. Tokens of
// released records yield core.ErrStaleToken.
func (s *Store) Claim(t Token) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := t.index()
	if int(idx) >= len(s.slots) || s.slots[idx].gen != t.generation() || s.slots[idx].rec == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrStaleToken, t)
	}
	return s.slots[idx].rec, nil
}

// Release returns the record's buffers, clears its decoded state and
// invalidates its token. Releasing a record twice is a defect: in strict
// mode it panics, otherwise it is counted and logged and the store is left
// untouched.
func (s *Store) Release(rec *Record) {
	if rec == nil {
		s.defect("release of nil record", 0)
		return
	}

	s.mu.Lock()
	idx := rec.token.index()
	if int(idx) >= len(s.slots) || s.slots[idx].gen != rec.token.generation() || s.slots[idx].rec != rec {
		s.mu.Unlock()
		s.defect("record released twice", rec.token)
		return
	}
	s.slots[idx].rec = nil
	s.slots[idx].gen++
	if s.slots[idx].gen == 0 {
		s.slots[idx].gen = 1
	}
	s.free = append(s.free, idx)
	s.live--
	if s.observe != nil {
		s.observe(s.live)
	}
	s.mu.Unlock()

	if buf := rec.buf; buf != nil && cap(*buf) <= maxPooledBuffer {
		*buf = (*buf)[:0]
		s.pool.Put(buf)
	}
	rec.reset()
	s.released.Add(1)
}

func (s *Store) defect(msg string, t Token) {
	if s.opts.Strict {
		panic(fmt.Errorf("%w: %s", core.ErrDoubleRelease, t))
	}
	s.defects.Add(1)
	slog.Error(msg, "token", t.String(), "error", core.ErrDoubleRelease)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	return Stats{
		Allocated: s.allocated.Load(),
		Released:  s.released.Load(),
		Live:      live,
		Exhausted: s.exhausted.Load(),
		Defects:   s.defects.Load(),
	}
}

// CountDefect records a lifecycle defect detected outside the store, such
// as a completion whose token no longer resolves.
func (s *Store) CountDefect() {
	s.defects.Add(1)
}
