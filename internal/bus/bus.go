package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

const (
	defaultBuffer = 100
	publishWait   = 10 * time.Second
)

// InMemoryBus is the hand-off between channel adapters and the intake loop.
// Publishing never blocks longer than publishWait; messages that cannot be
// placed in time are counted as dropped.
type InMemoryBus struct {
	ch      chan domain.InboundMessage
	wait    time.Duration
	mu      sync.RWMutex // guards closed against a concurrent send
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

func New(buffer int, logger *slog.Logger) *InMemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		ch:     make(chan domain.InboundMessage, buffer),
		wait:   publishWait,
		logger: logger,
	}
}

func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(msg, "bus closed")
		return
	}

	select {
	case b.ch <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID, "buffered", len(b.ch))
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.ch <- msg:
	case <-timer.C:
		b.drop(msg, "bus full")
	}
}

func (b *InMemoryBus) drop(msg domain.InboundMessage, reason string) {
	b.dropped.Add(1)
	b.logger.Error("inbound message dropped", "reason", reason, "channel", msg.Channel, "sender", msg.SenderID)
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage { return b.ch }

// Len is the number of messages waiting for intake.
func (b *InMemoryBus) Len() int { return len(b.ch) }

// Dropped counts messages rejected because the bus was full or closed.
func (b *InMemoryBus) Dropped() int64 { return b.dropped.Load() }

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
