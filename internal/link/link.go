// Package link provides the link-layer transports the pipeline sends frames
// through and receives frames from.
package link

import (
	"context"

	"firestige.xyz/v2xtrx/internal/core"
)

// InboundFunc receives one inbound frame. The frame buffer may be reused by
// the transport once the callback returns.
type InboundFunc func(frame []byte, meta core.RxMeta)

// Transport is a link-layer access point.
type Transport interface {
	Name() string
	// RegisterInbound sets the callback for received frames. It must be
	// called before Start.
	RegisterInbound(fn InboundFunc)
	// Start opens the link and begins delivering inbound frames until ctx
	// is cancelled or Close is called.
	Start(ctx context.Context) error
	Transmit(ctx context.Context, iface string, frame []byte, params core.TxParams) error
	// Close stops delivery and waits for in-flight callbacks to return.
	Close() error
}
