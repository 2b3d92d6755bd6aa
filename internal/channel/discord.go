package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/saare1/aisales/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord receives lead messages from a Discord bot and delivers replies to
// the Discord channel stored as the lead's ExternalID.
type Discord struct {
	token   string
	guildID string

	mu      sync.Mutex
	session *discordgo.Session
	logger  *slog.Logger
}

var (
	_ domain.Channel = (*Discord)(nil)
	_ domain.Sender  = (*Discord)(nil)
)

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Kind() domain.ChannelKind { return domain.ChannelDiscord }

// getSession creates the REST session on first use. The gateway connection is
// only opened by Start.
func (d *Discord) getSession() (*discordgo.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return d.session, nil
	}
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session
	return session, nil
}

// Start connects to the Discord gateway and listens until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := d.getSession()
	if err != nil {
		return err
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(content),
		)

		bus.Publish(domain.InboundMessage{
			Channel:    domain.ChannelDiscord,
			SenderID:   m.ChannelID,
			SenderName: m.Author.Username,
			Content:    content,
			Timestamp:  m.Timestamp,
			Metadata:   map[string]string{"author_id": m.Author.ID},
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// Send posts content to the lead's Discord channel. subject is ignored.
func (d *Discord) Send(ctx context.Context, lead *domain.Lead, content, _ string) error {
	if lead.ExternalID == "" {
		return fmt.Errorf("discord: %w", domain.ErrNoAddress)
	}
	session, err := d.getSession()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := session.ChannelMessageSend(lead.ExternalID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send to %s: %w", lead.ExternalID, err)
		}
	}
	return nil
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
