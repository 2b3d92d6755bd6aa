package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

const smsMaxLen = 1600

// SMS delivers text messages through an HTTP gateway that accepts
// {"to","from","body"} JSON with bearer authentication.
type SMS struct {
	gatewayURL string
	apiKey     string
	from       string
	client     *http.Client
	logger     *slog.Logger
}

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	From       string
	Client     *http.Client
	Logger     *slog.Logger
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

func NewSMS(cfg SMSConfig) *SMS {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SMS{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

func (s *SMS) Kind() domain.ChannelKind { return domain.ChannelSMS }

// Send ignores subject. Bodies longer than one gateway segment are split.
func (s *SMS) Send(ctx context.Context, lead *domain.Lead, content, _ string) error {
	if lead.Phone == "" {
		return domain.ErrNoPhone
	}
	for _, chunk := range splitMessage(content, smsMaxLen) {
		if err := s.post(ctx, lead.Phone, chunk); err != nil {
			return err
		}
	}
	s.logger.Debug("sms sent", "to", lead.Phone, "len", len(content))
	return nil
}

func (s *SMS) post(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(smsRequest{To: to, From: s.from, Body: body})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
