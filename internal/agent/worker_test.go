package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

func TestDrain_PriorityOrderAndFailures(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Oracle = nil })
	ctx := context.Background()
	q := f.orch.Queue()

	other := &domain.Lead{FirstName: "Bo", Email: "bo@example.com"}
	if _, err := f.store.CreateLead(ctx, other); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	q.Enqueue(domain.InboundMessage{LeadID: f.lead.ID, Content: "just browsing", Priority: domain.PriorityLow, Timestamp: now})
	q.Enqueue(domain.InboundMessage{LeadID: other.ID, Content: "ready to buy", Priority: domain.PriorityImmediate, Timestamp: now.Add(time.Second)})
	q.Enqueue(domain.InboundMessage{LeadID: 999, Content: "who am I", Priority: domain.PriorityHigh, Timestamp: now})

	rep, err := f.orch.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rep.Results) != 3 || rep.Processed != 2 || rep.Remaining != 0 {
		t.Fatalf("report = %+v", rep)
	}
	order := []int64{rep.Results[0].LeadID, rep.Results[1].LeadID, rep.Results[2].LeadID}
	if order[0] != other.ID || order[1] != 999 || order[2] != f.lead.ID {
		t.Errorf("drain order = %v", order)
	}
	if rep.Results[1].Outcome != OutcomeFailed || rep.Results[1].Error == "" {
		t.Errorf("failed item = %+v", rep.Results[1])
	}
	if q.Size() != 0 {
		t.Error("failed message must not be re-queued")
	}
}

func TestDrain_RespectsMax(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Oracle = nil })
	for i := 0; i < 3; i++ {
		f.orch.Queue().Enqueue(domain.InboundMessage{LeadID: f.lead.ID, Content: "ping", Priority: domain.PriorityMedium})
	}
	rep, err := f.orch.Drain(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 2 || rep.Remaining != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestDrain_EmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	rep, err := f.orch.Drain(context.Background(), 5)
	if err != nil || rep.Processed != 0 || len(rep.Results) != 0 {
		t.Errorf("Drain = %+v, %v", rep, err)
	}
}

func TestWorker_ProcessesWokenMessages(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Oracle = nil })
	w := NewWorker(WorkerConfig{Orchestrator: f.orch, Workers: 2, IdlePoll: time.Minute, Logger: testLogger()})
	in := newIntake(f, w.Wake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if _, err := in.Accept(context.Background(), domain.InboundMessage{LeadID: f.lead.ID, Content: "Do you offer discounts?"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(f.deliverer.deliveries()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if got := len(f.deliverer.deliveries()); got != 1 {
		t.Errorf("deliveries = %d", got)
	}
}

func TestWorker_WakeNeverBlocks(t *testing.T) {
	w := NewWorker(WorkerConfig{Logger: testLogger()})
	for i := 0; i < 10; i++ {
		w.Wake()
	}
	if w.workers != defaultWorkers || w.idle != defaultIdlePoll {
		t.Errorf("defaults = %d, %v", w.workers, w.idle)
	}
}

func TestLeadLocks(t *testing.T) {
	l := newLeadLocks()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			unlock := l.lock(id % 2)
			defer unlock()
			if id%2 == 0 {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("max concurrent holders of one lead = %d", maxActive)
	}
	if l.held() != 0 {
		t.Errorf("entries left = %d", l.held())
	}
}
