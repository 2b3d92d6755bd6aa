package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_PatternSubscriptions(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	got := map[string][]string{}
	for _, p := range []string{"*", "turn.*", EventComplianceBlock, "queue"} {
		p := p
		eb.On(p, func(e Event) { got[p] = append(got[p], e.Type) })
	}

	eb.Emit(Event{Type: EventTurnCompleted})
	eb.Emit(Event{Type: EventComplianceBlock})
	eb.Emit(Event{Type: EventQueueEnqueued})

	want := map[string][]string{
		"*":                  {EventTurnCompleted, EventComplianceBlock, EventQueueEnqueued},
		"turn.*":             {EventTurnCompleted},
		EventComplianceBlock: {EventComplianceBlock},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("deliveries (-want +got):\n%s", diff)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	calls := 0
	id := eb.On("*", func(Event) { calls++ })
	other := eb.On("*", func(Event) {})
	eb.Emit(Event{Type: "a"})
	eb.Off(id)
	eb.Emit(Event{Type: "b"})
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
	if id == other {
		t.Error("subscription ids must be unique")
	}
}

func TestEventBus_LeadIDLiftedFromPayload(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	var seen Event
	eb.On("*", func(e Event) { seen = e })

	eb.Emit(Event{Type: EventActionExecuted, Payload: map[string]any{"lead_id": int64(7)}})
	if seen.LeadID != 7 || seen.Timestamp.IsZero() {
		t.Errorf("event = %+v", seen)
	}
	eb.Emit(Event{Type: EventActionExecuted, LeadID: 3, Payload: map[string]any{"lead_id": int64(7)}})
	if seen.LeadID != 3 {
		t.Errorf("explicit LeadID overwritten: %d", seen.LeadID)
	}
}

func TestEventBus_Recent(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	eb.Emit(Event{Type: EventQueueEnqueued, LeadID: 1, Timestamp: base})
	eb.Emit(Event{Type: EventTurnCompleted, LeadID: 1, Timestamp: base.Add(time.Minute)})
	eb.Emit(Event{Type: EventTurnCompleted, LeadID: 2, Timestamp: base.Add(2 * time.Minute)})
	eb.Emit(Event{Type: EventComplianceBlock, LeadID: 1, Timestamp: base.Add(3 * time.Minute)})

	types := func(es []Event) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Type)
		}
		return out
	}
	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"all", Filter{}, []string{EventQueueEnqueued, EventTurnCompleted, EventTurnCompleted, EventComplianceBlock}},
		{"lead", Filter{LeadID: 1}, []string{EventQueueEnqueued, EventTurnCompleted, EventComplianceBlock}},
		{"family", Filter{Type: "turn.*"}, []string{EventTurnCompleted, EventTurnCompleted}},
		{"since", Filter{Since: base.Add(2 * time.Minute)}, []string{EventTurnCompleted, EventComplianceBlock}},
		{"limit keeps newest", Filter{LeadID: 1, Limit: 2}, []string{EventTurnCompleted, EventComplianceBlock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, types(eb.Recent(tt.f))); diff != "" {
				t.Errorf("Recent (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventBus_HistoryBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.max = 3
	for i := int64(1); i <= 5; i++ {
		eb.Emit(Event{Type: "x", LeadID: i})
	}
	got := eb.Recent(Filter{})
	if len(got) != 3 || got[0].LeadID != 3 || got[2].LeadID != 5 {
		t.Errorf("history = %+v", got)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	after := false
	eb.On("*", func(Event) { panic("boom") })
	eb.On("*", func(Event) { after = true })
	eb.Emit(Event{Type: "x"})
	if !after {
		t.Error("handler after a panicking one was not called")
	}
}

func TestEventBus_HandlerMayEmit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.On(EventTurnCompleted, func(e Event) {
		eb.Emit(Event{Type: EventActionExecuted, LeadID: e.LeadID})
	})
	eb.Emit(Event{Type: EventTurnCompleted, LeadID: 4})
	if n := len(eb.Recent(Filter{Type: EventActionExecuted, LeadID: 4})); n != 1 {
		t.Errorf("nested events = %d", n)
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	var e Emitter = eb
	e.Emit(Event{Type: "x"})
}
