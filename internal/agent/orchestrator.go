// Package agent runs sales conversation turns: compliance screening,
// context assembly, generation, action execution and delivery.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/action"
	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/compliance"
	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/notify"
	"github.com/saare1/aisales/internal/queue"
	"github.com/saare1/aisales/internal/sentiment"
)

// Outcome is the terminal state of a turn.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
	// OutcomeSkipped is a follow-up that was not due.
	OutcomeSkipped Outcome = "skipped"
)

// ActionTakenEscalated is recorded in the audit log for blocked messages.
const ActionTakenEscalated = "escalated_to_human"

// Result is returned by every entry point.
type Result struct {
	LeadID    int64                  `json:"lead_id"`
	Entry     EntryPoint             `json:"entry_point"`
	Outcome   Outcome                `json:"outcome"`
	Success   bool                   `json:"success"`
	Text      string                 `json:"text,omitempty"`
	Actions   []domain.ActionResult  `json:"actions,omitempty"`
	Delivery  *domain.DeliveryResult `json:"delivery,omitempty"`
	Sentiment *domain.Sentiment      `json:"sentiment,omitempty"`
	Verdict   *domain.Verdict        `json:"verdict,omitempty"`
	Fallback  bool                   `json:"fallback,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}

// Store is the record-store surface a turn reads and writes.
type Store interface {
	domain.LeadStore
	domain.ConversationStore
	domain.AuditStore
}

type Config struct {
	Store Store
	// Oracle is optional; without it every turn uses fallback text.
	Oracle    domain.Provider
	Model     string
	Gate      *compliance.Gate
	Scorer    sentiment.Scorer
	Executor  *action.Executor
	Deliverer domain.Deliverer
	Notifier  domain.Notifier
	Queue     *queue.MessageQueue
	Events    bus.Emitter
	Agent     config.AgentConfig
	// ScreenOutbound runs generated drafts through the gate before delivery.
	ScreenOutbound bool
	Logger         *slog.Logger
}

// Orchestrator owns the turn pipeline. Turns for the same lead never overlap.
type Orchestrator struct {
	cfg     Config
	tracker *sentiment.Tracker
	locks   *leadLocks
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = compliance.NewDefaultGate()
	}
	if cfg.Scorer == nil {
		cfg.Scorer = sentiment.New("", cfg.Logger)
	}
	if cfg.Queue == nil {
		cfg.Queue = queue.New()
	}
	if cfg.Executor == nil {
		cfg.Executor = action.NewExecutor(action.ExecutorConfig{Store: cfg.Store, Notifier: cfg.Notifier, Logger: cfg.Logger})
	}
	cfg.Agent = withAgentDefaults(cfg.Agent)
	return &Orchestrator{
		cfg:     cfg,
		tracker: sentiment.NewTracker(cfg.Store),
		locks:   newLeadLocks(),
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func withAgentDefaults(a config.AgentConfig) config.AgentConfig {
	d := config.Defaults().Agent
	if a.CompanyName == "" {
		a.CompanyName = d.CompanyName
	}
	if a.AgentName == "" {
		a.AgentName = d.AgentName
	}
	if a.HistoryWindow <= 0 {
		a.HistoryWindow = d.HistoryWindow
	}
	if a.SentimentHistory <= 0 {
		a.SentimentHistory = d.SentimentHistory
	}
	if a.SentimentWindowDays <= 0 {
		a.SentimentWindowDays = d.SentimentWindowDays
	}
	if a.Temperature <= 0 {
		a.Temperature = d.Temperature
	}
	if a.MaxFollowups <= 0 {
		a.MaxFollowups = d.MaxFollowups
	}
	if a.FollowupIntervalHours <= 0 {
		a.FollowupIntervalHours = d.FollowupIntervalHours
	}
	mt := &a.MaxTokens
	for _, p := range []struct {
		v   *int
		def int
	}{
		{&mt.Inbound, d.MaxTokens.Inbound},
		{&mt.Greet, d.MaxTokens.Greet},
		{&mt.Followup, d.MaxTokens.Followup},
		{&mt.Close, d.MaxTokens.Close},
		{&mt.Objection, d.MaxTokens.Objection},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
	return a
}

// Queue returns the message queue turns are drained from.
func (o *Orchestrator) Queue() *queue.MessageQueue { return o.cfg.Queue }

type turn struct {
	entry         EntryPoint
	leadID        int64
	content       string
	channel       domain.ChannelKind
	sentiment     *domain.Sentiment
	objectionType string
}

// HandleInbound answers a lead message. msg.LeadID must be resolved; a
// sentiment stamped at enqueue time is reused.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg domain.InboundMessage) (*Result, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrInvalidLead)
	}
	t := turn{entry: EntryInbound, leadID: msg.LeadID, content: msg.Content, channel: msg.Channel}
	if msg.Sentiment.Category != "" {
		s := msg.Sentiment
		t.sentiment = &s
	}
	return o.run(ctx, t)
}

// Greet sends the opening message to a new lead.
func (o *Orchestrator) Greet(ctx context.Context, leadID int64) (*Result, error) {
	return o.run(ctx, turn{entry: EntryGreet, leadID: leadID})
}

// FollowUp nudges a quiet lead. Leads that are not due are skipped.
func (o *Orchestrator) FollowUp(ctx context.Context, leadID int64) (*Result, error) {
	return o.run(ctx, turn{entry: EntryFollowup, leadID: leadID})
}

// Close sends a closing message and moves the lead to negotiating.
func (o *Orchestrator) Close(ctx context.Context, leadID int64) (*Result, error) {
	return o.run(ctx, turn{entry: EntryClose, leadID: leadID})
}

// HandleObjection answers an objection and records it on the lead.
func (o *Orchestrator) HandleObjection(ctx context.Context, leadID int64, objectionType, content string) (*Result, error) {
	objectionType = strings.TrimSpace(objectionType)
	if objectionType == "" {
		objectionType = "general"
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty objection", domain.ErrInvalidLead)
	}
	return o.run(ctx, turn{entry: EntryObjection, leadID: leadID, content: content, objectionType: objectionType})
}

func (o *Orchestrator) run(ctx context.Context, t turn) (*Result, error) {
	if t.leadID <= 0 {
		return nil, fmt.Errorf("%w: missing lead id", domain.ErrInvalidLead)
	}
	start := o.now()
	unlock := o.locks.lock(t.leadID)
	defer unlock()

	lead, err := o.cfg.Store.GetLead(ctx, t.leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead %d: %w", t.leadID, err)
	}
	if lead == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrLeadNotFound, t.leadID)
	}

	res := &Result{LeadID: lead.ID, Entry: t.entry}
	err = o.process(ctx, t, lead, res)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Success = false
	}
	o.finish(res, start, err)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) process(ctx context.Context, t turn, lead *domain.Lead, res *Result) error {
	if t.entry == EntryFollowup {
		if reason := o.followupBlocker(lead); reason != "" {
			res.Outcome = OutcomeSkipped
			res.Reason = reason
			return nil
		}
	}

	ch := t.channel
	if ch == "" {
		ch = lead.PreferredChannel
	}
	if ch == "" {
		ch = domain.ChannelEmail
	}

	if t.content != "" {
		if v := o.cfg.Gate.Check(t.content); v.Blocked {
			return o.block(ctx, t, lead, ch, v, res)
		}
		s := t.sentiment
		if s == nil {
			scored := o.cfg.Scorer.Score(t.content)
			s = &scored
		}
		res.Sentiment = s
		compound := s.Compound
		if _, err := o.cfg.Store.SaveMessage(ctx, lead.ID, t.content, true, ch, &compound); err != nil {
			return fmt.Errorf("save inbound message: %w", err)
		}
		if err := o.recordLeadMessage(ctx, t, lead); err != nil {
			return err
		}
	}

	cc, err := o.assemble(ctx, lead, res.Sentiment)
	if err != nil {
		return err
	}

	text, fellBack := o.generate(ctx, t, cc)
	display, actions := action.Parse(text)
	if !fellBack && o.cfg.ScreenOutbound {
		if v := o.cfg.Gate.Check(display); v.Blocked {
			o.logger.Warn("generated draft failed compliance, using fallback", "lead", lead.ID, "category", v.Category, "evidence", v.Evidence)
			o.emitFallback(lead.ID, t.entry, "draft blocked")
			display, actions = Fallback(t.entry, lead, t.objectionType), nil
			fellBack = true
		}
	}
	display = strings.TrimSpace(display)
	if display == "" {
		display = Fallback(t.entry, lead, t.objectionType)
	}
	if res.Sentiment != nil {
		display = sentiment.AdjustTone(display, res.Sentiment.Category)
	}
	res.Fallback = fellBack

	if _, err := o.cfg.Store.SaveMessage(ctx, lead.ID, display, false, ch, nil); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	if err := o.recordOutbound(ctx, t, lead); err != nil {
		return err
	}

	res.Actions = o.cfg.Executor.Execute(ctx, actions, lead)
	for _, ar := range res.Actions {
		o.emit(bus.EventActionExecuted, map[string]any{"lead_id": lead.ID, "type": string(ar.Type), "success": ar.Success})
	}

	res.Delivery = o.deliver(ctx, lead, ch, display, subjectFor(t.entry, o.cfg.Agent.CompanyName))
	res.Text = display
	res.Outcome = OutcomeSuccess
	res.Success = true
	return nil
}

// followupBlocker returns why a follow-up is not due, or "".
func (o *Orchestrator) followupBlocker(lead *domain.Lead) string {
	switch {
	case !lead.Active:
		return "lead is inactive"
	case lead.Status == domain.StatusWon || lead.Status == domain.StatusLost:
		return fmt.Sprintf("lead is %s", lead.Status)
	case lead.FollowupCount >= o.cfg.Agent.MaxFollowups:
		return fmt.Sprintf("follow-up limit of %d reached", o.cfg.Agent.MaxFollowups)
	case lead.LastContact != nil && o.now().Sub(*lead.LastContact) < time.Duration(o.cfg.Agent.FollowupIntervalHours)*time.Hour:
		return fmt.Sprintf("last contact was less than %d hours ago", o.cfg.Agent.FollowupIntervalHours)
	}
	return ""
}

func (o *Orchestrator) recordLeadMessage(ctx context.Context, t turn, lead *domain.Lead) error {
	now := o.now().UTC()
	zero := 0
	u := domain.LeadUpdate{LastContact: &now, FollowupCount: &zero}
	if t.entry == EntryObjection {
		entry := t.objectionType + ": " + t.content
		objections := entry
		if lead.Objections != "" {
			objections = lead.Objections + "\n" + entry
		}
		u.Objections = &objections
		lead.Objections = objections
	}
	if err := o.cfg.Store.UpdateLeadFields(ctx, lead.ID, u); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	lead.LastContact, lead.FollowupCount = &now, 0
	return nil
}

func (o *Orchestrator) recordOutbound(ctx context.Context, t turn, lead *domain.Lead) error {
	now := o.now().UTC()
	u := domain.LeadUpdate{LastContact: &now}
	switch t.entry {
	case EntryClose:
		st := domain.StatusNegotiating
		u.Status = &st
		lead.Status = st
	case EntryFollowup:
		n := lead.FollowupCount + 1
		u.FollowupCount = &n
		lead.FollowupCount = n
	}
	if err := o.cfg.Store.UpdateLeadFields(ctx, lead.ID, u); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	lead.LastContact = &now
	return nil
}

// block handles a message the gate rejected. The oracle is never called and
// no actions run.
func (o *Orchestrator) block(ctx context.Context, t turn, lead *domain.Lead, ch domain.ChannelKind, v domain.Verdict, res *Result) error {
	o.logger.Warn("message blocked by compliance gate", "lead", lead.ID, "category", v.Category, "evidence", v.Evidence)
	if _, err := o.cfg.Store.SaveMessage(ctx, lead.ID, t.content, true, ch, nil); err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	deflection := o.cfg.Gate.Deflection(v.Category)

	if err := o.cfg.Store.AppendAudit(ctx, domain.AuditEntry{
		LeadID:      lead.ID,
		Category:    v.Category,
		Evidence:    v.Evidence,
		Message:     t.content,
		ActionTaken: ActionTakenEscalated,
		CreatedAt:   o.now().UTC(),
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if o.cfg.Notifier != nil {
		_, err := o.cfg.Notifier.Notify(ctx, domain.Notification{
			LeadID:   lead.ID,
			Type:     notify.TypeCompliance,
			Content:  complianceAlert(lead, v, t.content, deflection),
			Priority: domain.NotifyPriorityHigh,
		})
		if err != nil {
			return fmt.Errorf("compliance notification: %w", err)
		}
	} else {
		o.logger.Warn("no notifier configured, compliance alert not raised", "lead", lead.ID)
	}

	if _, err := o.cfg.Store.SaveMessage(ctx, lead.ID, deflection, false, ch, nil); err != nil {
		return fmt.Errorf("save deflection: %w", err)
	}
	o.emit(bus.EventComplianceBlock, map[string]any{"lead_id": lead.ID, "category": string(v.Category)})

	res.Delivery = o.deliver(ctx, lead, ch, deflection, "")
	res.Outcome = OutcomeBlocked
	res.Text = deflection
	res.Verdict = &v
	return nil
}

func complianceAlert(lead *domain.Lead, v domain.Verdict, original, response string) string {
	return fmt.Sprintf("COMPLIANCE ALERT: Risk detected in conversation with %s (%s)\n"+
		"Risk Category: %s\nDetected Phrases: %s\nOriginal Message: %s\nAutomatic Response: %s",
		lead.FullName(), lead.Email, v.Category, strings.Join(v.Evidence, ", "), original, response)
}

func (o *Orchestrator) generate(ctx context.Context, t turn, cc *ConversationContext) (string, bool) {
	fallback := Fallback(t.entry, cc.Lead, t.objectionType)
	if o.cfg.Oracle == nil {
		o.emitFallback(cc.Lead.ID, t.entry, "no oracle")
		return fallback, true
	}
	system, err := o.systemPrompt(cc)
	if err != nil {
		o.logger.Error("prompt rendering failed", "lead", cc.Lead.ID, "err", err)
		o.emitFallback(cc.Lead.ID, t.entry, "prompt")
		return fallback, true
	}
	task, err := taskPrompt(t.entry, cc, t.content, t.objectionType)
	if err != nil {
		o.logger.Error("prompt rendering failed", "lead", cc.Lead.ID, "err", err)
		o.emitFallback(cc.Lead.ID, t.entry, "prompt")
		return fallback, true
	}

	resp, err := o.cfg.Oracle.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: task},
		},
		Model:       o.cfg.Model,
		MaxTokens:   o.maxTokens(t.entry),
		Temperature: o.cfg.Agent.Temperature,
	})
	if err != nil {
		o.logger.Warn("oracle failed, using fallback reply", "lead", cc.Lead.ID, "entry", t.entry, "err", err)
		o.emitFallback(cc.Lead.ID, t.entry, "error")
		return fallback, true
	}
	if strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("oracle returned empty reply, using fallback", "lead", cc.Lead.ID, "entry", t.entry)
		o.emitFallback(cc.Lead.ID, t.entry, "empty")
		return fallback, true
	}
	o.logger.Debug("reply generated", "lead", cc.Lead.ID, "entry", t.entry, "latency_ms", resp.LatencyMs, "tokens", resp.Usage.TotalTokens)
	return resp.Content, false
}

func (o *Orchestrator) maxTokens(entry EntryPoint) int {
	mt := o.cfg.Agent.MaxTokens
	switch entry {
	case EntryGreet:
		return mt.Greet
	case EntryFollowup:
		return mt.Followup
	case EntryClose:
		return mt.Close
	case EntryObjection:
		return mt.Objection
	default:
		return mt.Inbound
	}
}

// deliver sends text on ch. Failures are reported, never retried.
func (o *Orchestrator) deliver(ctx context.Context, lead *domain.Lead, ch domain.ChannelKind, text, subject string) *domain.DeliveryResult {
	if o.cfg.Deliverer == nil {
		return &domain.DeliveryResult{Channel: ch, Content: text, Error: "no deliverer configured"}
	}
	to := *lead
	to.PreferredChannel = ch
	d := o.cfg.Deliverer.Deliver(ctx, &to, text, subject)
	if !d.Success {
		o.logger.Warn("delivery failed", "lead", lead.ID, "channel", d.Channel, "err", d.Error)
		o.emit(bus.EventDeliveryFailed, map[string]any{"lead_id": lead.ID, "channel": string(d.Channel), "error": d.Error})
	}
	return &d
}

func (o *Orchestrator) finish(res *Result, start time.Time, err error) {
	latency := o.now().Sub(start)
	o.emit(bus.EventTurnCompleted, map[string]any{
		"lead_id":    res.LeadID,
		"entry":      string(res.Entry),
		"outcome":    string(res.Outcome),
		"latency_ms": latency.Milliseconds(),
		"queue_size": o.cfg.Queue.Size(),
	})
	if err != nil {
		o.logger.Error("turn failed", "lead", res.LeadID, "entry", res.Entry, "err", err)
		return
	}
	o.logger.Info("turn complete", "lead", res.LeadID, "entry", res.Entry, "outcome", res.Outcome,
		"actions", len(res.Actions), "fallback", res.Fallback, "duration_ms", latency.Milliseconds())
}

func (o *Orchestrator) emitFallback(leadID int64, entry EntryPoint, reason string) {
	o.emit(bus.EventOracleFallback, map[string]any{"lead_id": leadID, "entry": string(entry), "reason": reason})
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	if o.cfg.Events == nil {
		return
	}
	o.cfg.Events.Emit(bus.Event{Type: eventType, Source: "agent", Payload: payload})
}
