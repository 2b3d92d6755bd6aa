package channel

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers messages over SMTP.
type Email struct {
	addr     string
	host     string
	username string
	password string
	from     string
	logger   *slog.Logger
	sendMail sendMailFunc
	now      func() time.Time
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Logger   *slog.Logger
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Email{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		logger:   cfg.Logger,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (e *Email) Kind() domain.ChannelKind { return domain.ChannelEmail }

func (e *Email) Send(ctx context.Context, lead *domain.Lead, content, subject string) error {
	if lead.Email == "" {
		return fmt.Errorf("email: %w", domain.ErrNoAddress)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		subject = DefaultSubject
	}

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}
	msg := e.compose(lead.Email, subject, content)
	if err := e.sendMail(e.addr, auth, e.from, []string{lead.Email}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", lead.Email, err)
	}
	e.logger.Debug("email sent", "to", lead.Email, "subject", subject)
	return nil
}

func (e *Email) compose(to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + e.from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + e.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
