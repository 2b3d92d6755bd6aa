package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/queue"
	"github.com/saare1/aisales/internal/sentiment"
)

// earlyContactWindow is how far back the intake looks to decide whether a
// message is among the lead's first two.
const earlyContactWindow = 10

// IntakeStore is the lead lookup surface used to resolve inbound senders.
type IntakeStore interface {
	domain.LeadStore
	History(ctx context.Context, leadID int64, limit int) ([]domain.ConversationMessage, error)
}

type IntakeConfig struct {
	Bus    domain.MessageBus
	Store  IntakeStore
	Queue  *queue.MessageQueue
	Scorer sentiment.Scorer
	Events bus.Emitter
	// WarnSize logs a warning when the queue grows past it; 0 disables.
	WarnSize int
	// Wake is called after every enqueue, e.g. Worker.Wake.
	Wake   func()
	Logger *slog.Logger
}

// Intake turns channel messages into ranked queue entries. Unknown senders
// become new leads.
type Intake struct {
	cfg    IntakeConfig
	logger *slog.Logger
}

func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scorer == nil {
		cfg.Scorer = sentiment.New("", cfg.Logger)
	}
	return &Intake{cfg: cfg, logger: cfg.Logger}
}

// Run consumes the bus until ctx is done or the bus closes.
func (in *Intake) Run(ctx context.Context) error {
	inbound := in.cfg.Bus.Subscribe()
	in.logger.Info("intake started")
	for {
		select {
		case <-ctx.Done():
			in.logger.Info("intake stopping")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				in.logger.Info("message bus closed, intake stopping")
				return nil
			}
			if _, err := in.Accept(ctx, msg); err != nil {
				in.logger.Error("inbound message dropped", "channel", msg.Channel, "sender", msg.SenderID, "err", err)
			}
		}
	}
}

// Accept resolves the sender, scores and ranks the message and enqueues it.
// The returned message carries its queue id, lead id, priority and sentiment.
func (in *Intake) Accept(ctx context.Context, msg domain.InboundMessage) (domain.InboundMessage, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return msg, fmt.Errorf("%w: empty message", domain.ErrInvalidLead)
	}
	if msg.Channel == "" {
		msg.Channel = domain.ChannelEmail
	}
	in.emit(bus.EventMessageReceived, map[string]any{"channel": string(msg.Channel)})

	lead, err := in.resolve(ctx, msg)
	if err != nil {
		return msg, err
	}
	msg.LeadID = lead.ID

	history, err := in.cfg.Store.History(ctx, lead.ID, earlyContactWindow)
	if err != nil {
		return msg, fmt.Errorf("load history: %w", err)
	}
	fromLead := 0
	for _, m := range history {
		if m.FromLead {
			fromLead++
		}
	}

	msg.Sentiment = in.cfg.Scorer.Score(msg.Content)
	msg.Priority = queue.Rank(queue.Signals{
		Status:       lead.Status,
		Temperature:  lead.Temperature,
		Text:         msg.Content,
		Compound:     msg.Sentiment.Compound,
		EarlyContact: fromLead < 2,
	})
	msg.ID = in.cfg.Queue.Enqueue(msg)

	size := in.cfg.Queue.Size()
	in.logger.Info("message enqueued", "id", msg.ID, "lead", lead.ID, "channel", msg.Channel, "priority", msg.Priority.String(), "queue_size", size)
	if in.cfg.WarnSize > 0 && size >= in.cfg.WarnSize {
		in.logger.Warn("message queue above warning size", "size", size, "warn_size", in.cfg.WarnSize)
	}
	in.emit(bus.EventQueueEnqueued, map[string]any{"lead_id": lead.ID, "priority": msg.Priority.String(), "size": size})
	if in.cfg.Wake != nil {
		in.cfg.Wake()
	}
	return msg, nil
}

func (in *Intake) resolve(ctx context.Context, msg domain.InboundMessage) (*domain.Lead, error) {
	st := in.cfg.Store
	if msg.LeadID > 0 {
		lead, err := st.GetLead(ctx, msg.LeadID)
		if err != nil {
			return nil, fmt.Errorf("load lead %d: %w", msg.LeadID, err)
		}
		if lead == nil {
			return nil, fmt.Errorf("%w: %d", domain.ErrLeadNotFound, msg.LeadID)
		}
		return lead, nil
	}
	if msg.LeadEmail != "" {
		lead, err := st.GetLeadByEmail(ctx, msg.LeadEmail)
		if err != nil {
			return nil, fmt.Errorf("find lead by email: %w", err)
		}
		if lead != nil {
			return lead, nil
		}
	}
	if msg.SenderID != "" {
		lead, err := st.GetLeadByExternal(ctx, msg.Channel, msg.SenderID)
		if err != nil {
			return nil, fmt.Errorf("find lead by %s sender: %w", msg.Channel, err)
		}
		if lead != nil {
			return lead, nil
		}
	}
	if msg.LeadEmail == "" && msg.SenderID == "" {
		return nil, fmt.Errorf("%w: message has no sender", domain.ErrInvalidLead)
	}

	first, last, _ := strings.Cut(strings.TrimSpace(msg.SenderName), " ")
	lead := &domain.Lead{
		FirstName:        first,
		LastName:         strings.TrimSpace(last),
		Email:            msg.LeadEmail,
		Source:           string(msg.Channel),
		PreferredChannel: msg.Channel,
	}
	switch {
	case msg.Channel == domain.ChannelEmail && lead.Email == "":
		lead.Email = msg.SenderID
	case msg.Channel != domain.ChannelEmail:
		lead.ExternalID = msg.SenderID
	}
	if msg.Channel == domain.ChannelSMS || msg.Channel == domain.ChannelWhatsApp {
		lead.Phone = msg.SenderID
	}
	if _, err := st.CreateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	in.logger.Info("new lead from inbound message", "lead", lead.ID, "channel", msg.Channel)
	return lead, nil
}

func (in *Intake) emit(eventType string, payload map[string]any) {
	if in.cfg.Events == nil {
		return
	}
	in.cfg.Events.Emit(bus.Event{Type: eventType, Source: "intake", Payload: payload})
}
