// Package queue holds pending inbound lead messages in priority order.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saare1/aisales/internal/domain"
)

type item struct {
	msg domain.InboundMessage
	seq uint64
}

// messageHeap orders by priority descending, then timestamp ascending, then
// arrival sequence.
type messageHeap []*item

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.msg.Priority != b.msg.Priority {
		return a.msg.Priority > b.msg.Priority
	}
	if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
		return a.msg.Timestamp.Before(b.msg.Timestamp)
	}
	return a.seq < b.seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MessageQueue is an unbounded, concurrency-safe priority queue. One mutex
// guards every heap operation and is never held across I/O.
type MessageQueue struct {
	mu   sync.Mutex
	heap messageHeap
	seq  uint64
	now  func() time.Time
}

func New() *MessageQueue {
	return &MessageQueue{now: time.Now}
}

// Enqueue assigns the message an ID (and a timestamp if it has none) and
// inserts it. Priority must already be set by the caller.
func (q *MessageQueue) Enqueue(msg domain.InboundMessage) string {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = q.now()
	}
	if msg.Priority < domain.PriorityLow {
		msg.Priority = domain.PriorityLow
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &item{msg: msg, seq: q.seq})
	q.mu.Unlock()
	return msg.ID
}

// Dequeue removes the highest-priority message. ok is false when empty.
func (q *MessageQueue) Dequeue() (domain.InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return domain.InboundMessage{}, false
	}
	return heap.Pop(&q.heap).(*item).msg, true
}

func (q *MessageQueue) Peek() (domain.InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return domain.InboundMessage{}, false
	}
	return q.heap[0].msg, true
}

func (q *MessageQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.heap = nil
	q.mu.Unlock()
}

// RemoveForLead evicts every queued message of a lead in one O(n) pass and
// rebuilds the heap. It returns the number removed.
func (q *MessageQueue) RemoveForLead(leadID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.heap[:0]
	removed := 0
	for _, it := range q.heap {
		if it.msg.LeadID == leadID {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.heap); i++ {
		q.heap[i] = nil
	}
	q.heap = kept
	if removed > 0 {
		heap.Init(&q.heap)
	}
	return removed
}

// Stats counts queued messages per priority level.
func (q *MessageQueue) Stats() map[domain.PriorityLevel]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[domain.PriorityLevel]int)
	for _, it := range q.heap {
		out[it.msg.Priority]++
	}
	return out
}
