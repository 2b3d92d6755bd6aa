package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/action"
	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/compliance"
	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/notify"
	"github.com/saare1/aisales/internal/queue"
	"github.com/saare1/aisales/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubOracle struct {
	mu    sync.Mutex
	reply string
	err   error
	delay time.Duration
	reqs  []domain.ChatRequest

	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *stubOracle) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Content: s.reply}, nil
}

func (s *stubOracle) Name() string                    { return "stub" }
func (s *stubOracle) Models() []string                { return nil }
func (s *stubOracle) Healthy(_ context.Context) error { return nil }

func (s *stubOracle) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type delivery struct {
	channel domain.ChannelKind
	content string
	subject string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	fail bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, lead *domain.Lead, content, subject string) domain.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{channel: lead.PreferredChannel, content: content, subject: subject})
	if f.fail {
		return domain.DeliveryResult{Channel: lead.PreferredChannel, Error: "smtp unavailable"}
	}
	return domain.DeliveryResult{Success: true, Channel: lead.PreferredChannel, Content: content, SentAt: time.Now()}
}

func (f *fakeDeliverer) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

type fixture struct {
	store     *store.SQLiteStore
	oracle    *stubOracle
	deliverer *fakeDeliverer
	events    *eventLog
	orch      *Orchestrator
	lead      *domain.Lead
}

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (l *eventLog) count(t string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, x := range l.types {
		if x == t {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, oracle: &stubOracle{}, deliverer: &fakeDeliverer{}, events: &eventLog{}}
	eb := bus.NewEventBus(testLogger())
	eb.On("*", func(e bus.Event) {
		f.events.mu.Lock()
		f.events.types = append(f.events.types, e.Type)
		f.events.mu.Unlock()
	})

	notifier := notify.New(notify.Config{Store: st, Logger: testLogger()})
	cfg := Config{
		Store:     st,
		Oracle:    f.oracle,
		Gate:      compliance.NewDefaultGate(),
		Deliverer: f.deliverer,
		Notifier:  notifier,
		Queue:     queue.New(),
		Events:    eb,
		Executor: action.NewExecutor(action.ExecutorConfig{
			Store: st, Notifier: notifier, Logger: testLogger(),
		}),
		Agent:          config.AgentConfig{CompanyName: "Acme", AgentName: "Sam"},
		ScreenOutbound: true,
		Logger:         testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.orch = NewOrchestrator(cfg)

	lead := &domain.Lead{FirstName: "Ari", LastName: "Tan", Email: "ari@example.com", Company: "Initech"}
	if _, err := st.CreateLead(context.Background(), lead); err != nil {
		t.Fatal(err)
	}
	f.lead = lead
	return f
}

func (f *fixture) reload(t *testing.T) *domain.Lead {
	t.Helper()
	l, err := f.store.GetLead(context.Background(), f.lead.ID)
	if err != nil || l == nil {
		t.Fatalf("GetLead = %v, %v", l, err)
	}
	return l
}

func inbound(leadID int64, content string) domain.InboundMessage {
	return domain.InboundMessage{LeadID: leadID, Channel: domain.ChannelEmail, Content: content}
}

func TestHandleInbound_ComplianceBlock(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Sure! [ACTION:UPDATE_LEAD|status=won]"
	ctx := context.Background()

	res, err := f.orch.HandleInbound(ctx, inbound(f.lead.ID, "I want to evade taxes illegally"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Outcome != OutcomeBlocked || res.Success {
		t.Fatalf("outcome = %s success=%v", res.Outcome, res.Success)
	}
	if res.Verdict == nil || res.Verdict.Category != domain.RiskIllegalActivity || len(res.Verdict.Evidence) == 0 {
		t.Errorf("verdict = %+v", res.Verdict)
	}
	if want := compliance.NewDefaultGate().Deflection(domain.RiskIllegalActivity); res.Text != want {
		t.Errorf("text = %q, want deflection", res.Text)
	}
	if f.oracle.calls() != 0 {
		t.Errorf("oracle called %d times", f.oracle.calls())
	}
	if len(res.Actions) != 0 {
		t.Errorf("actions executed: %+v", res.Actions)
	}

	notes, err := f.store.Notifications(ctx, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	if notes[0].Priority != domain.NotifyPriorityHigh || notes[0].Type != notify.TypeCompliance {
		t.Errorf("notification = %+v", notes[0])
	}
	if !strings.HasPrefix(notes[0].Content, "COMPLIANCE ALERT: Risk detected in conversation with Ari Tan (ari@example.com)") {
		t.Errorf("notification content = %q", notes[0].Content)
	}

	audit, err := f.store.AuditLog(ctx, f.lead.ID, 10)
	if err != nil || len(audit) != 1 {
		t.Fatalf("audit = %+v, %v", audit, err)
	}
	if audit[0].ActionTaken != ActionTakenEscalated || audit[0].Message != "I want to evade taxes illegally" {
		t.Errorf("audit entry = %+v", audit[0])
	}

	history, _ := f.store.History(ctx, f.lead.ID, 10)
	if len(history) != 2 {
		t.Errorf("history = %d messages, want inbound and deflection", len(history))
	}
	if d := f.deliverer.deliveries(); len(d) != 1 || d[0].content != res.Text {
		t.Errorf("deliveries = %+v", d)
	}
	if f.reload(t).Status != domain.StatusNew {
		t.Error("lead status must not change on a blocked turn")
	}
	if f.events.count(bus.EventComplianceBlock) != 1 {
		t.Error("compliance block event not emitted")
	}
}

func TestHandleInbound_GeneratesAndExecutesActions(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Hi Ari! [ACTION:UPDATE_LEAD|status=interested|needs=crm] Let's talk soon."
	ctx := context.Background()

	res, err := f.orch.HandleInbound(ctx, inbound(f.lead.ID, "Thanks, this looks great"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if res.Outcome != OutcomeSuccess || !res.Success || res.Fallback {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Text, "Hi Ari!  Let's talk soon.") || strings.Contains(res.Text, "[ACTION") {
		t.Errorf("text = %q", res.Text)
	}
	if res.Sentiment == nil {
		t.Fatal("sentiment snapshot missing")
	}
	if len(res.Actions) != 1 || !res.Actions[0].Success {
		t.Fatalf("actions = %+v", res.Actions)
	}

	lead := f.reload(t)
	if lead.Status != domain.StatusInterested || lead.Needs != "crm" {
		t.Errorf("lead = status %s needs %q", lead.Status, lead.Needs)
	}
	if lead.LastContact == nil {
		t.Error("last contact not stamped")
	}

	req := f.oracle.reqs[0]
	if req.MaxTokens != 500 || req.Temperature != 0.7 {
		t.Errorf("request limits = %d / %v", req.MaxTokens, req.Temperature)
	}
	system := req.Messages[0].Content
	for _, want := range []string{"You are Sam, a sales agent for Acme", "Name: Ari Tan", "Lead Sentiment Analysis", "Thanks, this looks great"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if got := req.Messages[1].Content; got != "The lead (Ari Tan) has sent the following message: Thanks, this looks great" {
		t.Errorf("task prompt = %q", got)
	}

	history, _ := f.store.History(ctx, f.lead.ID, 10)
	if len(history) != 2 || history[0].FromLead || !history[1].FromLead || history[1].Sentiment == nil {
		t.Errorf("history = %+v", history)
	}
	if d := f.deliverer.deliveries(); len(d) != 1 || d[0].channel != domain.ChannelEmail {
		t.Errorf("deliveries = %+v", d)
	}
	if f.events.count(bus.EventTurnCompleted) != 1 || f.events.count(bus.EventActionExecuted) != 1 {
		t.Errorf("events = %v", f.events.types)
	}
}

func TestHandleInbound_OracleFailureFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.err = errors.New("upstream 503")

	res, err := f.orch.HandleInbound(context.Background(), inbound(f.lead.ID, "Can you tell me about pricing?"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !res.Success || !res.Fallback {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Text, "Hello Ari, thank you for your message.") {
		t.Errorf("text = %q", res.Text)
	}
	if f.events.count(bus.EventOracleFallback) != 1 {
		t.Error("fallback event not emitted")
	}
}

func TestHandleInbound_BlockedDraftReplaced(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Sure, we can help you evade taxes. [ACTION:UPDATE_LEAD|status=won]"

	res, err := f.orch.HandleInbound(context.Background(), inbound(f.lead.ID, "What can you do for my accounting?"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !res.Fallback || strings.Contains(res.Text, "evade") {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Actions) != 0 {
		t.Errorf("actions from a blocked draft ran: %+v", res.Actions)
	}
	if f.reload(t).Status == domain.StatusWon {
		t.Error("lead status changed by a blocked draft")
	}
}

func TestHandleInbound_DeliveryFailureKeepsTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Hello Ari, happy to help."
	f.deliverer.fail = true

	res, err := f.orch.HandleInbound(context.Background(), inbound(f.lead.ID, "Do you integrate with Outlook?"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !res.Success || res.Delivery == nil || res.Delivery.Success {
		t.Fatalf("result = %+v delivery = %+v", res, res.Delivery)
	}
	history, _ := f.store.History(context.Background(), f.lead.ID, 10)
	if len(history) != 2 {
		t.Errorf("reply must be recorded despite delivery failure, history = %d", len(history))
	}
	if f.events.count(bus.EventDeliveryFailed) != 1 {
		t.Error("delivery failure event not emitted")
	}
}

func TestHandleInbound_InputErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.HandleInbound(ctx, inbound(999, "hello")); !errors.Is(err, domain.ErrLeadNotFound) {
		t.Errorf("unknown lead: err = %v", err)
	}
	if _, err := f.orch.HandleInbound(ctx, inbound(0, "hello")); !errors.Is(err, domain.ErrInvalidLead) {
		t.Errorf("missing lead: err = %v", err)
	}
	if _, err := f.orch.HandleInbound(ctx, inbound(f.lead.ID, "   ")); !errors.Is(err, domain.ErrInvalidLead) {
		t.Errorf("empty content: err = %v", err)
	}
	if f.oracle.calls() != 0 {
		t.Error("oracle called for invalid input")
	}
}

func TestGreet_WithoutOracle(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Oracle = nil })

	res, err := f.orch.Greet(context.Background(), f.lead.ID)
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	want := "Hello Ari, thank you for your interest! How can I assist you today?"
	if res.Text != want || !res.Fallback {
		t.Errorf("text = %q fallback=%v", res.Text, res.Fallback)
	}
	d := f.deliverer.deliveries()
	if len(d) != 1 || d[0].subject != "Welcome to Acme" {
		t.Errorf("deliveries = %+v", d)
	}
	if f.reload(t).LastContact == nil {
		t.Error("last contact not stamped")
	}
}

func TestFollowUp_Gating(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Oracle = nil
		c.Agent.MaxFollowups = 1
	})
	ctx := context.Background()
	base := time.Now()

	if _, err := f.orch.Greet(ctx, f.lead.ID); err != nil {
		t.Fatal(err)
	}
	res, err := f.orch.FollowUp(ctx, f.lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped || !strings.Contains(res.Reason, "24 hours") {
		t.Errorf("recent contact: %+v", res)
	}

	f.orch.now = func() time.Time { return base.Add(48 * time.Hour) }
	res, err = f.orch.FollowUp(ctx, f.lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSuccess || !strings.HasPrefix(res.Text, "Hello Ari, I wanted to follow up") {
		t.Fatalf("due follow-up: %+v", res)
	}
	if n := f.reload(t).FollowupCount; n != 1 {
		t.Errorf("followup count = %d", n)
	}

	f.orch.now = func() time.Time { return base.Add(96 * time.Hour) }
	res, err = f.orch.FollowUp(ctx, f.lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped || !strings.Contains(res.Reason, "limit") {
		t.Errorf("limit reached: %+v", res)
	}
	if got := len(f.deliverer.deliveries()); got != 2 {
		t.Errorf("deliveries = %d, want greet and one follow-up", got)
	}
}

func TestFollowUp_ClosedLeadSkipped(t *testing.T) {
	f := newFixture(t, nil)
	won := domain.StatusWon
	if err := f.store.UpdateLeadFields(context.Background(), f.lead.ID, domain.LeadUpdate{Status: &won}); err != nil {
		t.Fatal(err)
	}
	res, err := f.orch.FollowUp(context.Background(), f.lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped || f.oracle.calls() != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestClose_SetsNegotiating(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Thank you Ari, here is the proposal. [ACTION:SEND_INFORMATION|type=contract]"

	res, err := f.orch.Close(context.Background(), f.lead.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !res.Success || len(res.Actions) != 1 || !res.Actions[0].Success {
		t.Fatalf("result = %+v", res)
	}
	if f.reload(t).Status != domain.StatusNegotiating {
		t.Error("status not negotiating")
	}
	if f.oracle.reqs[0].MaxTokens != 400 {
		t.Errorf("max tokens = %d", f.oracle.reqs[0].MaxTokens)
	}
}

func TestHandleObjection_RecordsObjections(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Oracle = nil })
	ctx := context.Background()

	res, err := f.orch.HandleObjection(ctx, f.lead.ID, "price", "It's too expensive")
	if err != nil {
		t.Fatalf("HandleObjection: %v", err)
	}
	if !strings.Contains(res.Text, "I understand your concern about price, Ari. Let me address that...") {
		t.Errorf("text = %q", res.Text)
	}
	if _, err := f.orch.HandleObjection(ctx, f.lead.ID, "timing", "Not this quarter"); err != nil {
		t.Fatal(err)
	}
	if got := f.reload(t).Objections; got != "price: It's too expensive\ntiming: Not this quarter" {
		t.Errorf("objections = %q", got)
	}
}

func TestTurnsSerializedPerLead(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.reply = "Hello Ari, noted."
	f.oracle.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.HandleInbound(context.Background(), inbound(f.lead.ID, "Any update?")); err != nil {
				t.Errorf("HandleInbound: %v", err)
			}
		}()
	}
	wg.Wait()
	if m := f.oracle.maxSeen.Load(); m != 1 {
		t.Errorf("concurrent turns for one lead = %d", m)
	}
	if n := f.orch.locks.held(); n != 0 {
		t.Errorf("lock entries leaked: %d", n)
	}
}
