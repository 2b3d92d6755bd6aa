package queue

import (
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func msg(lead int64, p domain.PriorityLevel, offset time.Duration) domain.InboundMessage {
	return domain.InboundMessage{
		LeadID:    lead,
		Channel:   domain.ChannelEmail,
		Content:   "hello",
		Priority:  p,
		Timestamp: baseTime.Add(offset),
	}
}

func TestDequeue_Empty(t *testing.T) {
	q := New()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty dequeue")
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("expected empty peek")
	}
	if q.Size() != 0 {
		t.Fatalf("size = %d, want 0", q.Size())
	}
}

func TestEnqueue_AssignsIdentity(t *testing.T) {
	q := New()
	id := q.Enqueue(domain.InboundMessage{LeadID: 1, Priority: domain.PriorityHigh})
	if id == "" {
		t.Fatal("expected generated id")
	}
	got, ok := q.Peek()
	if !ok || got.ID != id {
		t.Fatalf("peek = %+v, want id %s", got, id)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}

	keep := q.Enqueue(domain.InboundMessage{ID: "fixed", LeadID: 2, Priority: domain.PriorityLow})
	if keep != "fixed" {
		t.Errorf("existing id overwritten: %s", keep)
	}
}

func TestOrdering_PriorityThenTimestamp(t *testing.T) {
	q := New()
	q.Enqueue(msg(1, domain.PriorityMedium, 0))
	q.Enqueue(msg(2, domain.PriorityImmediate, 3*time.Second))
	q.Enqueue(msg(3, domain.PriorityMedium, -time.Second))
	q.Enqueue(msg(4, domain.PriorityUrgent, 0))
	q.Enqueue(msg(5, domain.PriorityImmediate, time.Second))

	var got []int64
	for {
		m, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, m.LeadID)
	}
	want := []int64{5, 2, 4, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOrdering_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	q := New()
	for i := int64(1); i <= 5; i++ {
		q.Enqueue(msg(i, domain.PriorityHigh, 0))
	}
	for i := int64(1); i <= 5; i++ {
		m, _ := q.Dequeue()
		if m.LeadID != i {
			t.Fatalf("position %d: got lead %d", i, m.LeadID)
		}
	}
}

func TestOrdering_RandomizedProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		q := New()
		n := 1 + rng.Intn(200)
		in := make([]domain.InboundMessage, n)
		for i := range in {
			p := domain.PriorityLevel(1 + rng.Intn(5))
			in[i] = msg(int64(i), p, time.Duration(rng.Intn(1000))*time.Millisecond)
			q.Enqueue(in[i])
		}

		out := make([]domain.InboundMessage, 0, n)
		for i := 0; i < n; i++ {
			m, ok := q.Dequeue()
			if !ok {
				t.Fatalf("round %d: queue empty after %d of %d", round, i, n)
			}
			out = append(out, m)
		}
		if _, ok := q.Dequeue(); ok {
			t.Fatalf("round %d: queue not empty after draining", round)
		}

		for i := 1; i < len(out); i++ {
			prev, cur := out[i-1], out[i]
			if prev.Priority < cur.Priority {
				t.Fatalf("round %d: priority inversion at %d: %d before %d", round, i, prev.Priority, cur.Priority)
			}
			if prev.Priority == cur.Priority && prev.Timestamp.After(cur.Timestamp) {
				t.Fatalf("round %d: timestamp inversion at %d", round, i)
			}
		}
	}
}

func TestRemoveForLead(t *testing.T) {
	q := New()
	q.Enqueue(msg(1, domain.PriorityLow, 0))
	q.Enqueue(msg(2, domain.PriorityImmediate, 0))
	q.Enqueue(msg(1, domain.PriorityUrgent, time.Second))
	q.Enqueue(msg(3, domain.PriorityHigh, 0))
	q.Enqueue(msg(1, domain.PriorityHigh, 2*time.Second))

	if n := q.RemoveForLead(1); n != 3 {
		t.Fatalf("removed %d, want 3", n)
	}
	if n := q.RemoveForLead(42); n != 0 {
		t.Fatalf("removed %d for unknown lead", n)
	}
	if q.Size() != 2 {
		t.Fatalf("size = %d, want 2", q.Size())
	}
	first, _ := q.Dequeue()
	second, _ := q.Dequeue()
	if first.LeadID != 2 || second.LeadID != 3 {
		t.Errorf("order after removal = %d, %d", first.LeadID, second.LeadID)
	}
}

func TestClearAndStats(t *testing.T) {
	q := New()
	q.Enqueue(msg(1, domain.PriorityHigh, 0))
	q.Enqueue(msg(2, domain.PriorityHigh, 0))
	q.Enqueue(msg(3, domain.PriorityLow, 0))

	stats := q.Stats()
	if stats[domain.PriorityHigh] != 2 || stats[domain.PriorityLow] != 1 {
		t.Errorf("stats = %v", stats)
	}

	q.Clear()
	if q.Size() != 0 {
		t.Fatalf("size after clear = %d", q.Size())
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue after clear returned a message")
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New()
	const producers, perProducer, consumers = 8, 250, 4

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(domain.InboundMessage{
					LeadID:   int64(p*perProducer + i),
					Priority: domain.PriorityLevel(1 + i%5),
				})
			}
		}(p)
	}
	wg.Wait()

	if q.Size() != producers*perProducer {
		t.Fatalf("size = %d, want %d", q.Size(), producers*perProducer)
	}

	var mu sync.Mutex
	var seen []int64
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen = append(seen, m.LeadID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("consumed %d, want %d", len(seen), producers*perProducer)
	}
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, id := range seen {
		if id != int64(i) {
			t.Fatalf("message %d missing or duplicated", i)
		}
	}
}
