package domain

import (
	"context"
	"time"
)

// Channel is an intake transport. Start blocks until ctx is done, publishing
// every accepted lead message on bus.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Sender delivers one message to a lead over a single medium.
type Sender interface {
	Kind() ChannelKind
	Send(ctx context.Context, lead *Lead, content, subject string) error
}

// Deliverer picks the medium for a lead and reports the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, lead *Lead, content, subject string) DeliveryResult
}

type DeliveryResult struct {
	Success bool        `json:"success"`
	Channel ChannelKind `json:"channel"`
	To      string      `json:"to,omitempty"`
	Content string      `json:"content,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
	Error   string      `json:"error,omitempty"`
}
