package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/domain"

	"github.com/google/uuid"
)

const (
	defaultMeetingExpr  = "next business day 10:00"
	defaultFollowupExpr = "tomorrow 10:00"
	defaultDuration     = 30

	// FollowupSubject is the email subject used for scheduled followups.
	FollowupSubject = "Following up on your inquiry"

	meetingDateLayout = "Monday, January 02 at 03:04 PM"
)

// Store is the persistence the scheduler needs.
type Store interface {
	domain.LeadStore
	domain.ConversationStore
	domain.ScheduleStore
}

type Config struct {
	Store       Store
	Deliverer   domain.Deliverer
	Events      bus.Emitter
	MeetingLink string
	AgentName   string
	CompanyName string
	// Location for wall-clock expressions; default time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Service implements domain.Scheduler and runs due followups.
type Service struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Scheduler = (*Service)(nil)

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "Your sales team"
	}
	return &Service{cfg: cfg, logger: cfg.Logger, now: time.Now}
}

func (s *Service) resolve(expr, fallback string) (time.Time, error) {
	if strings.TrimSpace(expr) == "" {
		expr = fallback
	}
	now := s.now().In(s.cfg.Location)
	t, err := Resolve(expr, now)
	if err != nil {
		return time.Time{}, err
	}
	if !t.After(now) {
		return time.Time{}, fmt.Errorf("time %s is not in the future", t.Format(time.RFC3339))
	}
	return t, nil
}

// ScheduleMeeting books a meeting, moves the lead to meeting_scheduled and
// emails a confirmation. A failed confirmation does not undo the booking.
func (s *Service) ScheduleMeeting(ctx context.Context, lead *domain.Lead, timeExpr string, durationMinutes int, notes string) (*domain.Meeting, error) {
	if lead == nil {
		return nil, domain.ErrInvalidLead
	}
	startsAt, err := s.resolve(timeExpr, defaultMeetingExpr)
	if err != nil {
		return nil, err
	}
	if durationMinutes <= 0 {
		durationMinutes = defaultDuration
	}

	m := &domain.Meeting{
		ID:              uuid.NewString(),
		LeadID:          lead.ID,
		StartsAt:        startsAt,
		DurationMinutes: durationMinutes,
		Notes:           notes,
		Link:            s.cfg.MeetingLink,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.cfg.Store.SaveMeeting(ctx, *m); err != nil {
		return nil, err
	}
	status := domain.StatusMeetingScheduled
	if err := s.cfg.Store.UpdateLeadFields(ctx, lead.ID, domain.LeadUpdate{Status: &status}); err != nil {
		return nil, fmt.Errorf("mark lead %d meeting scheduled: %w", lead.ID, err)
	}
	lead.Status = status

	s.logger.Info("meeting scheduled", "lead", lead.ID, "meeting", m.ID, "starts_at", startsAt)
	s.sendConfirmation(ctx, lead, m)
	return m, nil
}

func (s *Service) sendConfirmation(ctx context.Context, lead *domain.Lead, m *domain.Meeting) {
	if s.cfg.Deliverer == nil {
		return
	}
	subject, body := s.confirmation(lead, m)

	emailLead := *lead
	emailLead.PreferredChannel = domain.ChannelEmail
	res := s.cfg.Deliverer.Deliver(ctx, &emailLead, body, subject)
	if !res.Success {
		s.logger.Warn("meeting confirmation not delivered", "lead", lead.ID, "err", res.Error)
		s.emit(bus.Event{
			Type:    bus.EventDeliveryFailed,
			Source:  "scheduler",
			Payload: map[string]any{"lead_id": lead.ID, "channel": string(res.Channel), "error": res.Error},
		})
		return
	}
	if _, err := s.cfg.Store.SaveMessage(ctx, lead.ID, body, false, res.Channel, nil); err != nil {
		s.logger.Warn("record meeting confirmation", "lead", lead.ID, "err", err)
	}
}

func (s *Service) confirmation(lead *domain.Lead, m *domain.Meeting) (subject, body string) {
	when := m.StartsAt.In(s.cfg.Location).Format(meetingDateLayout)
	subject = "Meeting Confirmation: " + when

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", lead.GreetingName())
	fmt.Fprintf(&b, "I've scheduled a %d-minute call with you for %s.\n\n", m.DurationMinutes, when)
	if m.Link != "" {
		fmt.Fprintf(&b, "Join or reschedule using this link: %s\n\n", m.Link)
	}
	b.WriteString("Looking forward to our conversation!\n\nBest,\n")
	b.WriteString(s.cfg.AgentName)
	if s.cfg.CompanyName != "" {
		b.WriteString("\n" + s.cfg.CompanyName)
	}
	return subject, b.String()
}

// ScheduleFollowup stores a pending followup on the lead's preferred channel.
func (s *Service) ScheduleFollowup(ctx context.Context, lead *domain.Lead, timeExpr string, message string) (*domain.Followup, error) {
	if lead == nil {
		return nil, domain.ErrInvalidLead
	}
	at, err := s.resolve(timeExpr, defaultFollowupExpr)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Hi %s, just following up on our conversation. Is there anything I can help you with?", lead.GreetingName())
	}
	channel := lead.PreferredChannel
	if channel == "" {
		channel = domain.ChannelEmail
	}
	f := &domain.Followup{
		ID:           uuid.NewString(),
		LeadID:       lead.ID,
		Channel:      channel,
		Content:      message,
		ScheduledFor: at,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.cfg.Store.SaveFollowup(ctx, *f); err != nil {
		return nil, err
	}
	s.logger.Info("followup scheduled", "lead", lead.ID, "followup", f.ID, "at", at)
	return f, nil
}

// FollowupRun reports one executed followup.
type FollowupRun struct {
	FollowupID string                `json:"followup_id"`
	LeadID     int64                 `json:"lead_id"`
	Delivery   domain.DeliveryResult `json:"delivery"`
}

// ExecuteDue sends every followup due now. Each followup is attempted once:
// it is marked executed whether or not delivery succeeded. A failure on one
// followup does not stop the others.
func (s *Service) ExecuteDue(ctx context.Context, limit int) ([]FollowupRun, error) {
	now := s.now()
	due, err := s.cfg.Store.DueFollowups(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	var runs []FollowupRun
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		run, err := s.executeOne(ctx, f)
		if err != nil {
			s.logger.Error("followup execution failed", "followup", f.ID, "lead", f.LeadID, "err", err)
			continue
		}
		runs = append(runs, run)
	}
	if len(due) > 0 {
		s.logger.Info("due followups executed", "due", len(due), "sent", countDelivered(runs))
	}
	return runs, nil
}

func (s *Service) executeOne(ctx context.Context, f domain.Followup) (FollowupRun, error) {
	run := FollowupRun{FollowupID: f.ID, LeadID: f.LeadID}
	now := s.now()

	lead, err := s.cfg.Store.GetLead(ctx, f.LeadID)
	if err != nil {
		return run, err
	}
	if lead == nil || !lead.Active {
		s.logger.Warn("dropping followup for missing or inactive lead", "followup", f.ID, "lead", f.LeadID)
		return run, s.cfg.Store.MarkFollowupExecuted(ctx, f.ID, now)
	}

	target := *lead
	if f.Channel != "" {
		target.PreferredChannel = f.Channel
	}
	if s.cfg.Deliverer != nil {
		run.Delivery = s.cfg.Deliverer.Deliver(ctx, &target, f.Content, FollowupSubject)
	} else {
		run.Delivery = domain.DeliveryResult{Channel: target.PreferredChannel, Error: "no deliverer configured"}
	}

	if err := s.cfg.Store.MarkFollowupExecuted(ctx, f.ID, now); err != nil {
		return run, err
	}
	if !run.Delivery.Success {
		s.emit(bus.Event{
			Type:    bus.EventDeliveryFailed,
			Source:  "scheduler",
			Payload: map[string]any{"lead_id": lead.ID, "channel": string(run.Delivery.Channel), "error": run.Delivery.Error},
		})
		return run, nil
	}

	if _, err := s.cfg.Store.SaveMessage(ctx, lead.ID, f.Content, false, run.Delivery.Channel, nil); err != nil {
		return run, err
	}
	count := lead.FollowupCount + 1
	contact := now.UTC()
	if err := s.cfg.Store.UpdateLeadFields(ctx, lead.ID, domain.LeadUpdate{FollowupCount: &count, LastContact: &contact}); err != nil {
		return run, err
	}
	s.emit(bus.Event{
		Type:    bus.EventFollowupExecuted,
		Source:  "scheduler",
		Payload: map[string]any{"lead_id": lead.ID, "followup_id": f.ID},
	})
	return run, nil
}

func (s *Service) emit(e bus.Event) {
	if s.cfg.Events != nil {
		s.cfg.Events.Emit(e)
	}
}

func countDelivered(runs []FollowupRun) int {
	n := 0
	for _, r := range runs {
		if r.Delivery.Success {
			n++
		}
	}
	return n
}
