package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/domain"
)

func newIntake(f *fixture, wake func()) *Intake {
	return NewIntake(IntakeConfig{
		Bus:    bus.New(8, testLogger()),
		Store:  f.store,
		Queue:  f.orch.Queue(),
		Events: f.orch.cfg.Events,
		Wake:   wake,
		Logger: testLogger(),
	})
}

func TestIntake_ResolvesByEmailAndRanks(t *testing.T) {
	f := newFixture(t, nil)
	woken := 0
	in := newIntake(f, func() { woken++ })

	msg, err := in.Accept(context.Background(), domain.InboundMessage{
		Channel:   domain.ChannelEmail,
		LeadEmail: "ARI@example.com",
		Content:   "I'm ready to buy, send me the contract",
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if msg.LeadID != f.lead.ID || msg.ID == "" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Priority != domain.PriorityImmediate {
		t.Errorf("priority = %s", msg.Priority)
	}
	if msg.Sentiment.Category == "" {
		t.Error("sentiment not stamped")
	}
	if f.orch.Queue().Size() != 1 || woken != 1 {
		t.Errorf("queue size = %d woken = %d", f.orch.Queue().Size(), woken)
	}
	if f.events.count(bus.EventQueueEnqueued) != 1 || f.events.count(bus.EventMessageReceived) != 1 {
		t.Errorf("events = %v", f.events.types)
	}
}

func TestIntake_EarlyContactRaisesPriority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	qualifying := domain.StatusQualifying
	if err := f.store.UpdateLeadFields(ctx, f.lead.ID, domain.LeadUpdate{Status: &qualifying}); err != nil {
		t.Fatal(err)
	}
	in := newIntake(f, nil)

	first, err := in.Accept(ctx, domain.InboundMessage{LeadID: f.lead.ID, Content: "Tell me more about the product"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Priority != domain.PriorityHigh {
		t.Errorf("first contact priority = %s", first.Priority)
	}

	for _, c := range []string{"one", "two"} {
		if _, err := f.store.SaveMessage(ctx, f.lead.ID, c, true, domain.ChannelEmail, nil); err != nil {
			t.Fatal(err)
		}
	}
	later, err := in.Accept(ctx, domain.InboundMessage{LeadID: f.lead.ID, Content: "Tell me more about the product"})
	if err != nil {
		t.Fatal(err)
	}
	if later.Priority != domain.PriorityMedium {
		t.Errorf("later priority = %s", later.Priority)
	}
}

func TestIntake_CreatesLeadForUnknownSender(t *testing.T) {
	f := newFixture(t, nil)
	in := newIntake(f, nil)
	ctx := context.Background()
	tg := domain.InboundMessage{Channel: domain.ChannelTelegram, SenderID: "777", SenderName: "Mia Chen", Content: "hello there"}

	first, err := in.Accept(ctx, tg)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	lead, err := f.store.GetLead(ctx, first.LeadID)
	if err != nil || lead == nil {
		t.Fatalf("GetLead = %v, %v", lead, err)
	}
	if lead.FirstName != "Mia" || lead.LastName != "Chen" || lead.ExternalID != "777" || lead.PreferredChannel != domain.ChannelTelegram {
		t.Errorf("lead = %+v", lead)
	}

	second, err := in.Accept(ctx, tg)
	if err != nil {
		t.Fatal(err)
	}
	if second.LeadID != first.LeadID {
		t.Errorf("second message created another lead: %d vs %d", second.LeadID, first.LeadID)
	}
}

func TestIntake_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	in := newIntake(f, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  domain.InboundMessage
		want error
	}{
		{"empty", domain.InboundMessage{LeadID: f.lead.ID, Content: "  "}, domain.ErrInvalidLead},
		{"no sender", domain.InboundMessage{Channel: domain.ChannelWebChat, Content: "hi"}, domain.ErrInvalidLead},
		{"unknown lead id", domain.InboundMessage{LeadID: 404, Content: "hi"}, domain.ErrLeadNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := in.Accept(ctx, tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if f.orch.Queue().Size() != 0 {
		t.Error("rejected messages must not be queued")
	}
}

func TestIntake_RunConsumesBus(t *testing.T) {
	f := newFixture(t, nil)
	in := newIntake(f, nil)
	b := in.cfg.Bus

	done := make(chan error, 1)
	go func() { done <- in.Run(context.Background()) }()

	b.Publish(domain.InboundMessage{LeadID: f.lead.ID, Content: "Is there a free trial?"})
	deadline := time.Now().Add(2 * time.Second)
	for f.orch.Queue().Size() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after bus close")
	}
	if f.orch.Queue().Size() != 1 {
		t.Errorf("queue size = %d", f.orch.Queue().Size())
	}
}
