// Package secmsg defines the secure-message engine the pipeline hands
// payloads to, and ships a software implementation of it.
package secmsg

import (
	"context"
	"time"

	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/record"
)

// ProcessContext carries what the receive path knows about a frame.
type ProcessContext struct {
	AID        uint32
	Interface  string
	ReceivedAt time.Time
}

// Request submits a received secured message for processing. Data stays
// valid until the completion for Token has been consumed.
type Request struct {
	Token   record.Token
	Data    []byte
	Context ProcessContext
}

// Completion is the asynchronous result of a submitted request.
type Completion struct {
	Token  record.Token
	Result core.Result
}

// Engine constructs secured messages synchronously and processes received
// ones asynchronously.
type Engine interface {
	// Construct wraps payload into a secured message, signed when the
	// profile asks for it.
	Construct(ctx context.Context, profile core.TransmitProfile, payload []byte) ([]byte, error)
	// Submit accepts a request or rejects it synchronously. After a nil
	// return the engine owns the request until its completion is delivered.
	Submit(ctx context.Context, req Request) error
	// Completions delivers one Completion per accepted request. The
	// channel is closed once the engine has been closed and drained.
	Completions() <-chan Completion
	// Close stops accepting requests and finishes the accepted ones.
	Close() error
}
