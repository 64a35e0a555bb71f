//go:build linux

package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadBackoff(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{6, 640 * time.Millisecond},
		{7, time.Second},
		{100, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, readBackoff(tt.failures), "failures=%d", tt.failures)
	}
}
