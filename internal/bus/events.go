package bus

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pipeline event types.
const (
	EventMessageReceived  = "message.received"
	EventQueueEnqueued    = "queue.enqueued"
	EventTurnCompleted    = "turn.completed"
	EventComplianceBlock  = "compliance.blocked"
	EventActionExecuted   = "action.executed"
	EventDeliveryFailed   = "delivery.failed"
	EventOracleFallback   = "oracle.fallback"
	EventFollowupExecuted = "followup.executed"
)

const defaultHistory = 1000

// Event is a pipeline fact published for metrics and inspection.
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	LeadID    int64          `json:"lead_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type EventHandler func(Event)

// Emitter is the publishing side of the event bus. A nil *EventBus is a
// valid no-op Emitter.
type Emitter interface {
	Emit(event Event)
}

// Filter selects events from the history. Zero fields match everything.
type Filter struct {
	Type   string // exact type, "*" or a family such as "turn.*"
	LeadID int64
	Since  time.Time
	Limit  int // newest N after filtering
}

func (f Filter) match(e Event) bool {
	if f.Type != "" && !matchType(f.Type, e.Type) {
		return false
	}
	if f.LeadID != 0 && e.LeadID != f.LeadID {
		return false
	}
	return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
}

func matchType(pattern, typ string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(typ, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == typ
	}
}

type subscription struct {
	id      string
	pattern string
	handler EventHandler
}

// EventBus fans events out to subscribers synchronously and keeps a bounded
// history for inspection.
type EventBus struct {
	mu      sync.RWMutex
	subs    []subscription
	seq     int
	history []Event
	max     int
	logger  *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{max: defaultHistory, logger: logger}
}

// On subscribes handler to events matching pattern ("*", an exact type, or
// a family like "compliance.*") and returns the subscription id.
func (eb *EventBus) On(pattern string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := pattern + "#" + strconv.Itoa(eb.seq)
	eb.subs = append(eb.subs, subscription{id: id, pattern: pattern, handler: handler})
	return id
}

func (eb *EventBus) Off(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers in subscription order.
// A lead_id payload entry is lifted into LeadID. A panicking handler is
// logged and does not affect the others.
func (eb *EventBus) Emit(e Event) {
	if eb == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.LeadID == 0 {
		if id, ok := e.Payload["lead_id"].(int64); ok {
			e.LeadID = id
		}
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.max {
		eb.history = append(eb.history[:0:0], eb.history[len(eb.history)-eb.max+1:]...)
	}
	eb.history = append(eb.history, e)
	var targets []subscription
	for _, s := range eb.subs {
		if matchType(s.pattern, e.Type) {
			targets = append(targets, s)
		}
	}
	eb.mu.Unlock()

	for _, s := range targets {
		eb.call(s, e)
	}
}

func (eb *EventBus) call(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", e.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(e)
}

// Recent returns matching events oldest first.
func (eb *EventBus) Recent(f Filter) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var out []Event
	for _, e := range eb.history {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
