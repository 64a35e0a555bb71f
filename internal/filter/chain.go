package filter

import "firestige.xyz/v2xtrx/internal/core"

// Chain passes a header only when every filter in it does. Filters are
// evaluated in order and evaluation stops at the first rejection.
type Chain struct {
	filters []Filter
}

// NewChain creates a chain. Nil filters are skipped.
func NewChain(filters ...Filter) *Chain {
	all := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			all = append(all, f)
		}
	}
	return &Chain{filters: all}
}

func (c *Chain) Interesting(h core.Header) bool {
	for _, f := range c.filters {
		if !f.Interesting(h) {
			return false
		}
	}
	return true
}

// Filters returns the filters in evaluation order.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// ChannelSet restricts the receive path to frames that name one of the
// given channels in their WSMP extension. Frames without a channel element
// pass.
type ChannelSet struct {
	channels map[uint8]struct{}
}

func NewChannelSet(channels ...uint8) *ChannelSet {
	s := &ChannelSet{channels: make(map[uint8]struct{}, len(channels))}
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	return s
}

func (s *ChannelSet) Interesting(h core.Header) bool {
	if !h.HasChannel || len(s.channels) == 0 {
		return true
	}
	_, ok := s.channels[h.Channel]
	return ok
}
