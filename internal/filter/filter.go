// Package filter decides whether a decoded frame is worth processing.
package filter

import (
	"slices"

	"firestige.xyz/v2xtrx/internal/core"
)

// Filter is consulted once per decoded frame. Implementations must be safe
// for concurrent use and free of side effects.
type Filter interface {
	Interesting(h core.Header) bool
}

// InterestSet is the immutable set of application identifiers the receive
// path cares about. Reads need no locking.
type InterestSet struct {
	aids map[uint32]struct{}
}

// NewInterestSet builds a set from aids. Duplicates are ignored.
func NewInterestSet(aids ...uint32) *InterestSet {
	s := &InterestSet{aids: make(map[uint32]struct{}, len(aids))}
	for _, aid := range aids {
		s.aids[aid] = struct{}{}
	}
	return s
}

// IsInteresting reports whether aid is in the set. A miss is the normal
// outcome for most traffic, not an error.
func (s *InterestSet) IsInteresting(aid uint32) bool {
	_, ok := s.aids[aid]
	return ok
}

func (s *InterestSet) Interesting(h core.Header) bool {
	return s.IsInteresting(h.AID)
}

func (s *InterestSet) Len() int {
	return len(s.aids)
}

// AIDs returns the members in ascending order.
func (s *InterestSet) AIDs() []uint32 {
	out := make([]uint32, 0, len(s.aids))
	for aid := range s.aids {
		out = append(out, aid)
	}
	slices.Sort(out)
	return out
}
