// Package events carries session events out of the process: to websocket
// clients through the Hub and to downstream consumers through Kafka.
package events

import (
	"context"
	"errors"
)

// Outbound channels.
const (
	ChannelPartial         = "partial-transcript"
	ChannelFinal           = "final-transcript"
	ChannelSessionOpen     = "session-open"
	ChannelSessionClosed   = "session-closed"
	ChannelSessionError    = "session-error"
	ChannelRecordingSaved  = "recording-saved"
	ChannelPendingRequests = "pending-requests"
)

// Message is one outbound event.
type Message struct {
	Channel string `json:"channel"`
	Session string `json:"session,omitempty"`
	Payload any    `json:"payload"`
}

// Publisher delivers messages. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Multi publishes every message to each publisher in turn.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
