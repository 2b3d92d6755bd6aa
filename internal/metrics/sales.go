package metrics

import (
	"fmt"
	"strconv"

	"github.com/saare1/aisales/internal/bus"
)

// Sales holds the pipeline metrics and keeps them current from bus events.
type Sales struct {
	r *Registry

	QueueDepth       *Gauge
	OracleFallbacks  *Counter
	DeliveryFailures *Counter
	FollowupsSent    *Counter
	MessagesReceived *Counter
	TurnLatency      *Histogram
}

func NewSales(r *Registry) *Sales {
	return &Sales{
		r:                r,
		QueueDepth:       r.Gauge("salesbot_queue_depth", "Messages waiting in the priority queue"),
		OracleFallbacks:  r.Counter("salesbot_oracle_fallbacks_total", "Turns answered with fallback text"),
		DeliveryFailures: r.Counter("salesbot_delivery_failures_total", "Outbound messages that failed to deliver"),
		FollowupsSent:    r.Counter("salesbot_followups_executed_total", "Scheduled follow-ups executed"),
		MessagesReceived: r.Counter("salesbot_messages_received_total", "Inbound messages accepted from channels"),
		TurnLatency: r.Histogram("salesbot_turn_latency_seconds", "Orchestrator turn latency in seconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}),
	}
}

func (s *Sales) turns(outcome string) *Counter {
	return s.r.Counter("salesbot_turns_total", "Orchestrator turns by outcome", "outcome", outcome)
}

func (s *Sales) actions(actionType string, success bool) *Counter {
	return s.r.Counter("salesbot_actions_total", "Executed response actions by type and result",
		"type", actionType, "success", strconv.FormatBool(success))
}

func (s *Sales) complianceBlocks(category string) *Counter {
	return s.r.Counter("salesbot_compliance_blocks_total", "Inbound messages blocked by the compliance gate",
		"category", category)
}

func (s *Sales) enqueued(priority string) *Counter {
	return s.r.Counter("salesbot_enqueued_total", "Messages enqueued by priority", "priority", priority)
}

// Attach subscribes to eb and returns the handler id.
func (s *Sales) Attach(eb *bus.EventBus) string {
	return eb.On("*", s.handle)
}

func (s *Sales) handle(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		s.MessagesReceived.Inc()
	case bus.EventQueueEnqueued:
		s.enqueued(str(e.Payload, "priority")).Inc()
		if n, ok := e.Payload["size"].(int); ok {
			s.QueueDepth.Set(int64(n))
		}
	case bus.EventTurnCompleted:
		s.turns(str(e.Payload, "outcome")).Inc()
		if ms, ok := e.Payload["latency_ms"].(int64); ok {
			s.TurnLatency.Observe(float64(ms) / 1000)
		}
		if n, ok := e.Payload["queue_size"].(int); ok {
			s.QueueDepth.Set(int64(n))
		}
	case bus.EventComplianceBlock:
		s.complianceBlocks(str(e.Payload, "category")).Inc()
	case bus.EventActionExecuted:
		ok, _ := e.Payload["success"].(bool)
		s.actions(str(e.Payload, "type"), ok).Inc()
	case bus.EventDeliveryFailed:
		s.DeliveryFailures.Inc()
	case bus.EventOracleFallback:
		s.OracleFallbacks.Inc()
	case bus.EventFollowupExecuted:
		s.FollowupsSent.Inc()
	}
}

func str(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
