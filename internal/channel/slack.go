package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// slackPoster is the subset of *slack.Client used for delivery.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack receives lead messages over Socket Mode and delivers replies to the
// Slack conversation stored as the lead's ExternalID.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	poster   slackPoster
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string
}

var (
	_ domain.Channel = (*Slack)(nil)
	_ domain.Sender  = (*Slack)(nil)
)

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []slack.Option{}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	client := slack.New(cfg.BotToken, opts...)
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		client:   client,
		poster:   client,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Kind() domain.ChannelKind { return domain.ChannelSlack }

// Start connects via Socket Mode and listens until ctx is done. It requires
// an app-level token.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	if s.appToken == "" {
		return fmt.Errorf("slack intake requires an app-level token")
	}
	s.bus = bus

	authResp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(s.client)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Unacknowledged events make Socket Mode disconnect.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.publish(ev.Channel, ev.User, ev.Text)

	case *slackevents.AppMentionEvent:
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		s.publish(ev.Channel, ev.User, content)
	}
}

func (s *Slack) publish(channelID, userID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.logger.Info("slack message received", "user", userID, "channel", channelID, "content_len", len(text))
	s.bus.Publish(domain.InboundMessage{
		Channel:   domain.ChannelSlack,
		SenderID:  channelID,
		Content:   text,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"user_id": userID},
	})
}

// Send posts content to the lead's Slack conversation. subject is ignored.
func (s *Slack) Send(ctx context.Context, lead *domain.Lead, content, _ string) error {
	if lead.ExternalID == "" {
		return fmt.Errorf("slack: %w", domain.ErrNoAddress)
	}
	return s.Post(ctx, lead.ExternalID, content)
}

// Post writes text to a Slack channel, splitting long messages.
func (s *Slack) Post(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		if _, _, err := s.poster.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("slack post to %s: %w", channelID, err)
		}
	}
	return nil
}
