package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

const defaultWhatsAppAPIBase = "https://graph.facebook.com/v21.0"

type WhatsAppConfig struct {
	APIBase       string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	Client        *http.Client
	Logger        *slog.Logger
}

// WhatsApp delivers to leads' phone numbers through the WhatsApp Business
// Cloud API and turns its webhook callbacks into inbound messages.
type WhatsApp struct {
	cfg    WhatsAppConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
}

var _ domain.Sender = (*WhatsApp)(nil)

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultWhatsAppAPIBase
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsApp{cfg: cfg, logger: cfg.Logger, client: cfg.Client}
}

func (w *WhatsApp) Kind() domain.ChannelKind { return domain.ChannelWhatsApp }

// Handler serves the verification challenge (GET) and message callbacks
// (POST). It is mounted on the webhook server.
func (w *WhatsApp) Handler(bus domain.MessageBus) http.Handler {
	w.bus = bus
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.handleVerification(rw, r)
		case http.MethodPost:
			w.handleIncoming(rw, r)
		default:
			http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && w.cfg.VerifyToken != "" && q.Get("hub.verify_token") == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(q.Get("hub.challenge")))
		return
	}
	w.logger.Warn("whatsapp webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	if w.cfg.AppSecret != "" && !verifyHMAC(body, w.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
					continue
				}
				w.logger.Info("whatsapp message received", "from", msg.From, "text_len", len(msg.Text.Body))
				w.bus.Publish(domain.InboundMessage{
					Channel:    domain.ChannelWhatsApp,
					SenderID:   msg.From,
					SenderName: names[msg.From],
					Content:    strings.TrimSpace(msg.Text.Body),
					Timestamp:  time.Now(),
					Metadata:   map[string]string{"wa_message_id": msg.ID},
				})
			}
		}
	}
	rw.WriteHeader(http.StatusOK)
}

// Send delivers a text message to the lead's phone number. subject is ignored.
func (w *WhatsApp) Send(ctx context.Context, lead *domain.Lead, content, _ string) error {
	to := lead.Phone
	if to == "" {
		to = lead.ExternalID
	}
	if to == "" {
		return domain.ErrNoPhone
	}
	to = strings.TrimPrefix(to, "+")

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": content},
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.cfg.APIBase, "/"), w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return nil
}

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
