package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saare1/aisales/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram receives lead messages from a Telegram bot and delivers replies to
// leads whose ExternalID is their Telegram chat id.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string
	welcome   string

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

var (
	_ domain.Channel = (*Telegram)(nil)
	_ domain.Sender  = (*Telegram)(nil)
)

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Welcome   string // reply to /start
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Welcome == "" {
		cfg.Welcome = "Hi! Thanks for reaching out. Tell me a little about what you're looking for and I'll help."
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		welcome:   cfg.Welcome,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Kind() domain.ChannelKind { return domain.ChannelTelegram }

// connect lazily creates the bot client so the sender works without Start.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return bot, nil
}

// Start polls Telegram for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := t.connect()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

// Send delivers content to the lead's Telegram chat. subject is ignored.
func (t *Telegram) Send(ctx context.Context, lead *domain.Lead, content, _ string) error {
	if lead.ExternalID == "" {
		return fmt.Errorf("telegram: %w", domain.ErrNoAddress)
	}
	chatID, err := strconv.ParseInt(lead.ExternalID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", lead.ExternalID, err)
	}
	bot, err := t.connect()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, bot, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		if msg.Command() == "start" {
			_ = t.sendChunk(context.Background(), t.bot, chatID, t.welcome)
		}
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	t.bus.Publish(telegramInbound(msg, text))
}

func telegramInbound(msg *tgbotapi.Message, text string) domain.InboundMessage {
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	meta := map[string]string{"user_id": strconv.FormatInt(msg.From.ID, 10)}
	if msg.From.UserName != "" {
		meta["username"] = msg.From.UserName
	}
	return domain.InboundMessage{
		Channel:    domain.ChannelTelegram,
		SenderID:   strconv.FormatInt(msg.Chat.ID, 10),
		SenderName: name,
		Content:    text,
		Timestamp:  time.Unix(int64(msg.Date), 0),
		Metadata:   meta,
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendChunk tries the configured parse mode first, falls back to plain text on
// a parse error and backs off on rate limiting.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}
