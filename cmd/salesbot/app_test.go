package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/queue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func serveQueue(t *testing.T, h http.Handler, method, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: decode: %v", method, target, err)
		}
	}
	return rec.Code, body
}

func TestQueueHandler(t *testing.T) {
	q := queue.New()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	q.Enqueue(domain.InboundMessage{LeadID: 1, Priority: domain.PriorityLow, Timestamp: now})
	q.Enqueue(domain.InboundMessage{LeadID: 2, Priority: domain.PriorityUrgent, Timestamp: now})
	q.Enqueue(domain.InboundMessage{LeadID: 2, Priority: domain.PriorityLow, Timestamp: now.Add(time.Second)})
	h := queueHandler(q, "s3cret", quietLogger())

	code, body := serveQueue(t, h, http.MethodGet, "/queue")
	if code != http.StatusOK || body["size"] != float64(3) {
		t.Fatalf("GET = %d %v", code, body)
	}
	if bp := body["by_priority"].(map[string]any); bp["low"] != float64(2) || bp["urgent"] != float64(1) {
		t.Errorf("by_priority = %v", bp)
	}
	if next := body["next"].(map[string]any); next["lead_id"] != float64(2) || next["priority"] != "urgent" {
		t.Errorf("next = %v", next)
	}
	if q.Size() != 3 {
		t.Fatalf("GET consumed messages: size = %d", q.Size())
	}

	if code, _ := serveQueue(t, h, http.MethodDelete, "/queue?lead=abc"); code != http.StatusBadRequest {
		t.Errorf("bad lead = %d, want 400", code)
	}
	if code, body := serveQueue(t, h, http.MethodDelete, "/queue?lead=2"); code != http.StatusOK || body["removed"] != float64(2) {
		t.Fatalf("DELETE lead = %d %v", code, body)
	}
	if next, ok := q.Peek(); !ok || next.LeadID != 1 {
		t.Fatalf("remaining = %+v", next)
	}

	if code, body := serveQueue(t, h, http.MethodDelete, "/queue"); code != http.StatusOK || body["removed"] != float64(1) {
		t.Fatalf("DELETE all = %d %v", code, body)
	}
	if code, body := serveQueue(t, h, http.MethodGet, "/queue"); code != http.StatusOK || body["size"] != float64(0) || body["next"] != nil {
		t.Errorf("after flush = %d %v", code, body)
	}

	if code, _ := serveQueue(t, h, http.MethodPost, "/queue"); code != http.StatusMethodNotAllowed {
		t.Errorf("POST = %d, want 405", code)
	}
}

func TestQueueHandler_DeleteNeedsToken(t *testing.T) {
	q := queue.New()
	q.Enqueue(domain.InboundMessage{LeadID: 1, Priority: domain.PriorityLow})

	for _, tc := range []struct {
		token, header string
	}{
		{"s3cret", ""},
		{"s3cret", "Bearer wrong"},
		{"", "Bearer "},
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "/queue", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		queueHandler(q, tc.token, quietLogger()).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("token %q header %q: status %d, want 403", tc.token, tc.header, rec.Code)
		}
	}
	if q.Size() != 1 {
		t.Errorf("queue modified without authorization: size = %d", q.Size())
	}
}
