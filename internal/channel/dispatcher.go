package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saare1/aisales/internal/domain"

	"golang.org/x/time/rate"
)

// DefaultSubject is used for email deliveries that carry no subject.
const DefaultSubject = "Following up on your inquiry"

// Dispatcher implements domain.Deliverer over a set of per-medium senders.
type Dispatcher struct {
	senders map[domain.ChannelKind]domain.Sender
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.Deliverer = (*Dispatcher)(nil)

type DispatcherConfig struct {
	Senders       []domain.Sender
	RatePerSecond float64 // 0 disables throttling
	Burst         int
	Logger        *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		senders: make(map[domain.ChannelKind]domain.Sender, len(cfg.Senders)),
		logger:  cfg.Logger,
		now:     time.Now,
	}
	for _, s := range cfg.Senders {
		if s != nil {
			d.senders[s.Kind()] = s
		}
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return d
}

// Kinds lists the registered mediums.
func (d *Dispatcher) Kinds() []domain.ChannelKind {
	kinds := make([]domain.ChannelKind, 0, len(d.senders))
	for k := range d.senders {
		kinds = append(kinds, k)
	}
	return kinds
}

// Route returns the medium a message to lead would travel over.
// SMS without a phone number and mediums with no registered sender fall back
// to email.
func (d *Dispatcher) Route(lead *domain.Lead) domain.ChannelKind {
	kind := lead.PreferredChannel
	switch kind {
	case "":
		return domain.ChannelEmail
	case domain.ChannelChat:
		kind = domain.ChannelWebChat
	case domain.ChannelSMS:
		if lead.Phone == "" {
			return domain.ChannelEmail
		}
	}
	if _, ok := d.senders[kind]; !ok {
		return domain.ChannelEmail
	}
	return kind
}

// Deliver sends content to lead and reports the outcome. It never returns an
// error; failures are described in the result.
func (d *Dispatcher) Deliver(ctx context.Context, lead *domain.Lead, content, subject string) domain.DeliveryResult {
	kind := d.Route(lead)
	res := domain.DeliveryResult{
		Channel: kind,
		To:      addressFor(lead, kind),
		Content: content,
	}
	if kind != lead.PreferredChannel && lead.PreferredChannel != "" && lead.PreferredChannel != domain.ChannelChat {
		d.logger.Debug("delivery channel fallback",
			"lead", lead.ID, "preferred", lead.PreferredChannel, "using", kind)
	}
	if kind == domain.ChannelEmail && subject == "" {
		subject = DefaultSubject
	}

	sender, ok := d.senders[kind]
	if !ok {
		res.Error = fmt.Sprintf("no sender configured for %s", kind)
		return res
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			res.Error = fmt.Sprintf("send throttled: %v", err)
			return res
		}
	}
	if err := sender.Send(ctx, lead, content, subject); err != nil {
		d.logger.Warn("delivery failed", "lead", lead.ID, "channel", kind, "err", err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.SentAt = d.now().UTC()
	d.logger.Info("message delivered", "lead", lead.ID, "channel", kind)
	return res
}

func addressFor(lead *domain.Lead, kind domain.ChannelKind) string {
	switch kind {
	case domain.ChannelEmail:
		return lead.Email
	case domain.ChannelSMS:
		return lead.Phone
	default:
		return lead.ExternalID
	}
}
