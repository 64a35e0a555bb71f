package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/v2xtrx/internal/core"
)

func TestInterestSet(t *testing.T) {
	s := NewInterestSet(32, 135)

	tests := []struct {
		aid  uint32
		want bool
	}{
		{32, true},
		{135, true},
		{999, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsInteresting(tt.aid), "aid %d", tt.aid)
		assert.Equal(t, tt.want, s.Interesting(core.Header{AID: tt.aid}), "aid %d", tt.aid)
	}
}

func TestInterestSetAIDs(t *testing.T) {
	s := NewInterestSet(135, 32, 135, 0x20407F)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []uint32{32, 135, 0x20407F}, s.AIDs())

	empty := NewInterestSet()
	assert.False(t, empty.IsInteresting(32))
	assert.Empty(t, empty.AIDs())
}

type countingFilter struct {
	calls int
	pass  bool
}

func (f *countingFilter) Interesting(core.Header) bool {
	f.calls++
	return f.pass
}

func TestChain(t *testing.T) {
	reject := &countingFilter{pass: false}
	after := &countingFilter{pass: true}
	c := NewChain(NewInterestSet(32), nil, reject, after)
	assert.Len(t, c.Filters(), 3)

	assert.False(t, c.Interesting(core.Header{AID: 32}))
	assert.Equal(t, 1, reject.calls)
	assert.Zero(t, after.calls, "evaluation stops at the first rejection")

	assert.False(t, c.Interesting(core.Header{AID: 999}))
	assert.Equal(t, 1, reject.calls)

	assert.True(t, NewChain().Interesting(core.Header{}))
}

func TestChannelSet(t *testing.T) {
	s := NewChannelSet(172, 178)

	assert.True(t, s.Interesting(core.Header{HasChannel: true, Channel: 172}))
	assert.False(t, s.Interesting(core.Header{HasChannel: true, Channel: 180}))
	assert.True(t, s.Interesting(core.Header{}), "frames without a channel element pass")
	assert.True(t, NewChannelSet().Interesting(core.Header{HasChannel: true, Channel: 180}))
}
