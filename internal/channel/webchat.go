package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saare1/aisales/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebChatConfig configures the website chat widget endpoint.
type WebChatConfig struct {
	Host           string
	Port           int
	Path           string   // default: /chat
	AllowedOrigins []string // empty = allow all
	Logger         *slog.Logger
}

// WebChat serves the chat widget over WebSocket. A visitor is identified by
// the "visitor" query parameter, which becomes the lead's ExternalID.
type WebChat struct {
	addr     string
	path     string
	origins  map[string]bool
	upgrader websocket.Upgrader
	bus      domain.MessageBus
	logger   *slog.Logger
	server   *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient
}

var (
	_ domain.Channel = (*WebChat)(nil)
	_ domain.Sender  = (*WebChat)(nil)
)

type wsClient struct {
	conn      *websocket.Conn
	visitorID string
	mu        sync.Mutex
}

// WSMessage is the JSON protocol spoken with the widget.
type WSMessage struct {
	Type      string `json:"type"` // "message" | "typing" | "status"
	Content   string `json:"content,omitempty"`
	VisitorID string `json:"visitor_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

func NewWebChat(cfg WebChatConfig) *WebChat {
	if cfg.Path == "" {
		cfg.Path = "/chat"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	wc := &WebChat{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:    cfg.Path,
		origins: make(map[string]bool),
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
	for _, o := range cfg.AllowedOrigins {
		wc.origins[strings.TrimRight(o, "/")] = true
	}
	wc.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     wc.checkOrigin,
	}
	return wc
}

func (wc *WebChat) Name() string { return "webchat" }

func (wc *WebChat) Kind() domain.ChannelKind { return domain.ChannelWebChat }

func (wc *WebChat) checkOrigin(r *http.Request) bool {
	if len(wc.origins) == 0 {
		return true
	}
	return wc.origins[r.Header.Get("Origin")]
}

// Handler returns the upgrade handler bound to bus.
func (wc *WebChat) Handler(bus domain.MessageBus) http.Handler {
	wc.bus = bus
	mux := http.NewServeMux()
	mux.HandleFunc(wc.path, wc.handleUpgrade)
	return mux
}

// Start serves the widget endpoint until ctx is done.
func (wc *WebChat) Start(ctx context.Context, bus domain.MessageBus) error {
	wc.server = &http.Server{
		Addr:              wc.addr,
		Handler:           wc.Handler(bus),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wc.logger.Info("webchat server starting", "addr", wc.addr, "path", wc.path)

	errCh := make(chan error, 1)
	go func() {
		if err := wc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		wc.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return wc.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webchat server: %w", err)
	}
}

func (wc *WebChat) Stop() error {
	wc.closeAllClients()
	return nil
}

func (wc *WebChat) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wc.logger.Warn("webchat upgrade failed", "err", err)
		return
	}

	visitorID := r.URL.Query().Get("visitor")
	if visitorID == "" {
		visitorID = "web-" + uuid.NewString()
	}
	client := &wsClient{conn: conn, visitorID: visitorID}
	clientID := fmt.Sprintf("%s-%p", visitorID, conn)

	wc.mu.Lock()
	wc.clients[clientID] = client
	wc.mu.Unlock()

	wc.logger.Info("webchat visitor connected", "visitor", visitorID)
	client.send(WSMessage{Type: "status", Content: "connected", VisitorID: visitorID})

	defer func() {
		wc.mu.Lock()
		delete(wc.clients, clientID)
		wc.mu.Unlock()
		conn.Close()
		wc.logger.Info("webchat visitor disconnected", "visitor", visitorID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wc.logger.Warn("webchat read error", "err", err)
			}
			return
		}

		var m WSMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			wc.logger.Warn("invalid webchat message", "err", err)
			continue
		}
		if m.Type != "message" || strings.TrimSpace(m.Content) == "" {
			continue
		}
		wc.bus.Publish(domain.InboundMessage{
			Channel:    domain.ChannelWebChat,
			LeadEmail:  strings.TrimSpace(m.Email),
			SenderID:   visitorID,
			SenderName: strings.TrimSpace(m.Name),
			Content:    strings.TrimSpace(m.Content),
			Timestamp:  time.Now(),
		})
	}
}

// Send pushes content to every open connection of the lead's visitor id.
// subject is ignored.
func (wc *WebChat) Send(_ context.Context, lead *domain.Lead, content, _ string) error {
	if lead.ExternalID == "" {
		return fmt.Errorf("webchat: %w", domain.ErrNoAddress)
	}
	data, err := json.Marshal(WSMessage{Type: "message", Content: content, VisitorID: lead.ExternalID})
	if err != nil {
		return err
	}

	wc.mu.RLock()
	defer wc.mu.RUnlock()

	delivered := 0
	for _, client := range wc.clients {
		if client.visitorID != lead.ExternalID {
			continue
		}
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			wc.logger.Debug("webchat write failed", "visitor", lead.ExternalID, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("webchat visitor %s is not connected", lead.ExternalID)
	}
	return nil
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (wc *WebChat) closeAllClients() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for id, client := range wc.clients {
		client.conn.Close()
		delete(wc.clients, id)
	}
}
