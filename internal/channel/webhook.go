package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

// WebhookConfig configures the signed HTTP intake endpoint.
type WebhookConfig struct {
	Host   string
	Port   int
	Path   string // default: /inbound
	Secret string // HMAC secret; empty disables signature checks
	// Extra handlers mounted on the same server, e.g. "/metrics".
	Extra  map[string]http.Handler
	Logger *slog.Logger
}

// Webhook accepts lead messages from web forms and third-party integrations.
type Webhook struct {
	addr   string
	path   string
	secret string
	extra  map[string]http.Handler
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server
}

var _ domain.Channel = (*Webhook)(nil)

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	Channel  string            `json:"channel"`   // lead channel, default "email"
	LeadID   int64             `json:"lead_id"`   // optional known lead
	Email    string            `json:"email"`     // optional lead email
	SenderID string            `json:"sender_id"` // channel-native address
	Name     string            `json:"name"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/inbound"
	}
	if cfg.Port == 0 {
		cfg.Port = 8082
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:   cfg.Path,
		secret: cfg.Secret,
		extra:  cfg.Extra,
		logger: cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Handler returns the server mux with the intake route and extra handlers.
func (w *Webhook) Handler(bus domain.MessageBus) http.Handler {
	w.bus = bus
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	for p, h := range w.extra {
		mux.Handle(p, h)
	}
	return mux
}

// Start serves the webhook endpoint until ctx is done.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(bus),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error { return nil }

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	payload.Content = strings.TrimSpace(payload.Content)
	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}
	if payload.LeadID == 0 && payload.Email == "" && payload.SenderID == "" {
		http.Error(rw, "One of lead_id, email or sender_id is required", http.StatusBadRequest)
		return
	}

	kind := domain.ChannelKind(strings.ToLower(payload.Channel))
	if kind == "" {
		kind = domain.ChannelEmail
	}

	w.logger.Info("webhook received",
		"channel", kind,
		"lead", payload.LeadID,
		"sender", payload.SenderID,
		"content_len", len(payload.Content),
	)

	w.bus.Publish(domain.InboundMessage{
		LeadID:     payload.LeadID,
		LeadEmail:  strings.TrimSpace(payload.Email),
		Channel:    kind,
		SenderID:   payload.SenderID,
		SenderName: strings.TrimSpace(payload.Name),
		Content:    payload.Content,
		Timestamp:  time.Now(),
		Metadata:   payload.Metadata,
	})

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "accepted"})
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
