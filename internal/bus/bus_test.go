package bus

import (
	"testing"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testEBLogger())

	b.Publish(domain.InboundMessage{Channel: domain.ChannelTelegram, SenderID: "42", Content: "hello"})
	b.Publish(domain.InboundMessage{Channel: domain.ChannelSlack, SenderID: "U1", Content: "hi"})

	ch := b.Subscribe()
	first := <-ch
	second := <-ch
	if first.Content != "hello" || second.Content != "hi" {
		t.Fatalf("unexpected order: %q, %q", first.Content, second.Content)
	}
}

func TestInMemoryBus_CloseDrainsAndStopsPublish(t *testing.T) {
	b := New(2, testEBLogger())
	b.Publish(domain.InboundMessage{Content: "queued"})
	b.Close()
	b.Close() // idempotent

	b.Publish(domain.InboundMessage{Content: "dropped"})

	var got []string
	for msg := range b.Subscribe() {
		got = append(got, msg.Content)
	}
	if len(got) != 1 || got[0] != "queued" {
		t.Fatalf("expected only the message published before close, got %v", got)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
}

func TestInMemoryBus_FullBusDropsAfterWait(t *testing.T) {
	b := New(1, testEBLogger())
	b.wait = 5 * time.Millisecond

	b.Publish(domain.InboundMessage{Content: "first"})
	start := time.Now()
	b.Publish(domain.InboundMessage{Content: "second"})
	if time.Since(start) < b.wait {
		t.Error("publish to a full bus returned before the wait elapsed")
	}
	if b.Len() != 1 || b.Dropped() != 1 {
		t.Fatalf("Len = %d Dropped = %d", b.Len(), b.Dropped())
	}
}

func TestInMemoryBus_WaitingPublishSucceeds(t *testing.T) {
	b := New(1, testEBLogger())
	b.Publish(domain.InboundMessage{Content: "first"})

	go func() {
		time.Sleep(5 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.InboundMessage{Content: "second"})
	if b.Dropped() != 0 {
		t.Fatalf("Dropped = %d", b.Dropped())
	}
	if got := <-b.Subscribe(); got.Content != "second" {
		t.Fatalf("got %q", got.Content)
	}
}
