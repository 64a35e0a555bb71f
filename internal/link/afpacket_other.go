//go:build !linux

package link

import (
	"fmt"
	"runtime"

	"firestige.xyz/v2xtrx/internal/core"
)

const TypeAFPacket = "afpacket"

func init() {
	Register(TypeAFPacket, func(Config) (Transport, error) {
		return nil, fmt.Errorf("%w: afpacket on %s", core.ErrUnsupportedPlatform, runtime.GOOS)
	})
}
