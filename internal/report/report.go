// Package report delivers processed messages to external systems.
package report

import (
	"context"
	"time"

	"firestige.xyz/v2xtrx/internal/core"
)

// Message is the reported view of one processed inbound message.
type Message struct {
	Timestamp  time.Time
	Interface  string
	Source     string
	AID        uint32
	Result     core.ResultCode
	Content    core.ContentType
	PayloadLen int
	Labels     core.Labels
}

// Fields flattens the message into a map for encoders.
func (m *Message) Fields() map[string]any {
	fields := map[string]any{
		"timestamp":   m.Timestamp.UnixMilli(),
		"interface":   m.Interface,
		"source":      m.Source,
		"aid":         int64(m.AID),
		"result":      m.Result.String(),
		"content":     m.Content.String(),
		"payload_len": int64(m.PayloadLen),
	}
	if len(m.Labels) > 0 {
		labels := make(map[string]any, len(m.Labels))
		for k, v := range m.Labels {
			labels[k] = v
		}
		fields["labels"] = labels
	}
	return fields
}

// Reporter sends messages to an external system.
type Reporter interface {
	Name() string
	Report(ctx context.Context, msg *Message) error
	// Close flushes pending messages and releases resources.
	Close(ctx context.Context) error
}
