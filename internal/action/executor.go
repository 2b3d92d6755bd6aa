package action

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

const (
	DefaultMeetingTime     = "next business day 10:00"
	DefaultFollowupTime    = "tomorrow 10:00"
	DefaultMeetingDuration = 30
	DefaultEscalateReason  = "Lead requested human assistance"
)

// Handler runs one action for a lead and returns its result details.
type Handler func(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error)

// LeadUpdater is the record-store subset the executor writes through.
type LeadUpdater interface {
	UpdateLeadFields(ctx context.Context, id int64, u domain.LeadUpdate) error
}

// QueueEvictor drops a lead's pending inbound messages.
type QueueEvictor interface {
	RemoveForLead(leadID int64) int
}

type ExecutorConfig struct {
	Store       LeadUpdater
	Scheduler   domain.Scheduler
	Recommender domain.Recommender
	Notifier    domain.Notifier // optional
	Queue       QueueEvictor    // optional; leads marked lost are evicted
	Logger      *slog.Logger
	// MaxRecommendations bounds generated recommendations (default 3).
	MaxRecommendations int
}

// Executor dispatches actions by type. A failing or panicking handler only
// affects its own result.
type Executor struct {
	handlers map[domain.ActionType]Handler
	cfg      ExecutorConfig
	logger   *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = 3
	}
	e := &Executor{
		handlers: make(map[domain.ActionType]Handler),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	e.Register(domain.ActionScheduleMeeting, e.scheduleMeeting)
	e.Register(domain.ActionScheduleFollowup, e.scheduleFollowup)
	e.Register(domain.ActionSendInformation, e.sendInformation)
	e.Register(domain.ActionUpdateLead, e.updateLead)
	e.Register(domain.ActionEscalateToHuman, e.escalate)
	e.Register(domain.ActionRecommendProduct, e.recommendProduct)
	return e
}

// Register installs or replaces the handler for an action type.
func (e *Executor) Register(t domain.ActionType, h Handler) {
	e.handlers[normalizeType(t)] = h
}

func normalizeType(t domain.ActionType) domain.ActionType {
	return domain.ActionType(strings.ToUpper(strings.TrimSpace(string(t))))
}

// Execute runs actions in order and returns exactly one result per action.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action, lead *domain.Lead) []domain.ActionResult {
	results := make([]domain.ActionResult, 0, len(actions))
	for _, a := range actions {
		results = append(results, e.run(ctx, a, lead))
	}
	return results
}

func (e *Executor) run(ctx context.Context, a domain.Action, lead *domain.Lead) (res domain.ActionResult) {
	res.Type = a.Type
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked", "type", a.Type, "lead", lead.ID, "panic", r)
			res = domain.ActionResult{Type: a.Type, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	h, ok := e.handlers[normalizeType(a.Type)]
	if !ok {
		e.logger.Warn("unknown action ignored", "type", a.Type, "lead", lead.ID)
		res.Error = fmt.Sprintf("%v: %s", domain.ErrUnknownAction, a.Type)
		return res
	}

	details, err := h(ctx, lead, a)
	if err != nil {
		e.logger.Warn("action failed", "type", a.Type, "lead", lead.ID, "err", err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Details = details
	e.logger.Debug("action executed", "type", a.Type, "lead", lead.ID)
	return res
}

func (e *Executor) scheduleMeeting(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	if e.cfg.Scheduler == nil {
		return nil, fmt.Errorf("no scheduler configured")
	}
	duration := DefaultMeetingDuration
	if d := a.Param("duration", ""); d != "" {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(d), "m")); err == nil && n > 0 {
			duration = n
		}
	}
	m, err := e.cfg.Scheduler.ScheduleMeeting(ctx, lead, a.Param("time", DefaultMeetingTime), duration, a.Param("notes", ""))
	if err != nil {
		return nil, fmt.Errorf("schedule meeting: %w", err)
	}
	return map[string]any{"meeting": m}, nil
}

func (e *Executor) scheduleFollowup(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	if e.cfg.Scheduler == nil {
		return nil, fmt.Errorf("no scheduler configured")
	}
	f, err := e.cfg.Scheduler.ScheduleFollowup(ctx, lead, a.Param("time", DefaultFollowupTime), a.Param("message", ""))
	if err != nil {
		return nil, fmt.Errorf("schedule followup: %w", err)
	}
	return map[string]any{"followup": f}, nil
}

func (e *Executor) sendInformation(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	return map[string]any{"lead_id": lead.ID, "info_type": a.Param("type", "")}, nil
}

func (e *Executor) updateLead(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	var u domain.LeadUpdate
	applied := make(map[string]string)

	if raw, ok := a.Params["status"]; ok {
		if st, valid := domain.ParseLeadStatus(raw); valid {
			u.Status = &st
			applied["status"] = string(st)
		} else {
			e.logger.Debug("invalid lead status dropped", "lead", lead.ID, "status", raw)
		}
	}
	for _, field := range []string{"budget", "needs", "objections", "notes"} {
		v, ok := a.Params[field]
		if !ok {
			continue
		}
		switch field {
		case "budget":
			u.Budget = &v
		case "needs":
			u.Needs = &v
		case "objections":
			u.Objections = &v
		case "notes":
			u.Notes = &v
		}
		applied[field] = v
	}

	if !u.Empty() {
		if e.cfg.Store == nil {
			return nil, fmt.Errorf("no record store configured")
		}
		if err := e.cfg.Store.UpdateLeadFields(ctx, lead.ID, u); err != nil {
			return nil, fmt.Errorf("update lead: %w", err)
		}
	}
	details := map[string]any{"lead_id": lead.ID, "updates": applied}
	if u.Status != nil && *u.Status == domain.StatusLost && e.cfg.Queue != nil {
		n := e.cfg.Queue.RemoveForLead(lead.ID)
		details["evicted"] = n
		if n > 0 {
			e.logger.Info("evicted queued messages for lost lead", "lead", lead.ID, "count", n)
		}
	}
	return details, nil
}

func (e *Executor) escalate(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	reason := a.Param("reason", DefaultEscalateReason)
	details := map[string]any{"lead_id": lead.ID, "reason": reason, "notified": false}
	if e.cfg.Notifier == nil {
		return details, nil
	}
	_, err := e.cfg.Notifier.Notify(ctx, domain.Notification{
		LeadID:   lead.ID,
		Type:     "human_escalation",
		Content:  fmt.Sprintf("Lead %s (%s) needs a human: %s", lead.FullName(), lead.Email, reason),
		Priority: domain.NotifyPriorityMedium,
	})
	if err != nil {
		// The escalation intent is already recorded in the result.
		e.logger.Warn("escalation notification failed", "lead", lead.ID, "err", err)
		return details, nil
	}
	details["notified"] = true
	return details, nil
}

func (e *Executor) recommendProduct(ctx context.Context, lead *domain.Lead, a domain.Action) (map[string]any, error) {
	if e.cfg.Recommender == nil {
		return nil, fmt.Errorf("no recommender configured")
	}
	raw := a.Param("product_id", "")
	if raw == "" {
		recs, err := e.cfg.Recommender.Generate(ctx, lead, e.cfg.MaxRecommendations)
		if err != nil {
			return nil, fmt.Errorf("generate recommendations: %w", err)
		}
		return map[string]any{"lead_id": lead.ID, "generated_recommendations": recs}, nil
	}

	productID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid product_id %q", raw)
	}
	existing, err := e.cfg.Recommender.Existing(ctx, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("load recommendations: %w", err)
	}
	for _, r := range existing {
		if r.ProductID == productID {
			return map[string]any{"lead_id": lead.ID, "product_id": productID, "created": false}, nil
		}
	}
	if _, err := e.cfg.Recommender.Create(ctx, lead.ID, productID); err != nil {
		return nil, fmt.Errorf("create recommendation: %w", err)
	}
	return map[string]any{"lead_id": lead.ID, "product_id": productID, "created": true}, nil
}
