// Package notify raises notifications for human follow-up.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

// Notification types raised by the sales pipeline.
const (
	TypeCompliance = "compliance_escalation"
	TypeEscalation = "human_escalation"
)

// Poster mirrors a notification to a chat channel, e.g. *channel.Slack.
type Poster interface {
	Post(ctx context.Context, channelID, text string) error
}

type Config struct {
	Store        domain.NotificationStore
	Poster       Poster
	SlackChannel string
	// MirrorMinPriority is the lowest priority mirrored to Slack; default medium.
	MirrorMinPriority int
	Logger            *slog.Logger
}

// Notifier persists notifications and optionally mirrors them to Slack.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Notifier = (*Notifier)(nil)

func New(cfg Config) *Notifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MirrorMinPriority <= 0 {
		cfg.MirrorMinPriority = domain.NotifyPriorityMedium
	}
	return &Notifier{cfg: cfg, logger: cfg.Logger, now: time.Now}
}

// Notify stores n and returns its id. Mirroring failures are logged only.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) (int64, error) {
	if note.Priority <= 0 {
		note.Priority = domain.NotifyPriorityNormal
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now().UTC()
	}
	id, err := n.cfg.Store.CreateNotification(ctx, note)
	if err != nil {
		return 0, fmt.Errorf("create notification: %w", err)
	}
	note.ID = id
	n.logger.Info("notification raised", "id", id, "lead", note.LeadID, "type", note.Type, "priority", note.Priority)

	if n.cfg.Poster != nil && n.cfg.SlackChannel != "" && note.Priority >= n.cfg.MirrorMinPriority {
		if err := n.cfg.Poster.Post(ctx, n.cfg.SlackChannel, Format(note)); err != nil {
			n.logger.Warn("slack mirror failed", "id", id, "err", err)
		}
	}
	return id, nil
}

// Format renders a notification for chat.
func Format(n domain.Notification) string {
	return fmt.Sprintf("[%s] %s (lead %d)\n%s", PriorityLabel(n.Priority), n.Type, n.LeadID, n.Content)
}

func PriorityLabel(p int) string {
	switch {
	case p >= domain.NotifyPriorityHigh:
		return "HIGH"
	case p == domain.NotifyPriorityMedium:
		return "MEDIUM"
	default:
		return "NORMAL"
	}
}
