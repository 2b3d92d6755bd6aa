package channel

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

type fakeSender struct {
	kind    domain.ChannelKind
	err     error
	sent    []string
	subject string
}

func (f *fakeSender) Kind() domain.ChannelKind { return f.kind }

func (f *fakeSender) Send(_ context.Context, _ *domain.Lead, content, subject string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, content)
	f.subject = subject
	return nil
}

func newTestDispatcher(senders ...domain.Sender) *Dispatcher {
	d := NewDispatcher(DispatcherConfig{Senders: senders, Logger: testLogger()})
	d.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return d
}

func TestDispatcher_Route(t *testing.T) {
	email := &fakeSender{kind: domain.ChannelEmail}
	sms := &fakeSender{kind: domain.ChannelSMS}
	web := &fakeSender{kind: domain.ChannelWebChat}
	d := newTestDispatcher(email, sms, web)

	tests := []struct {
		name string
		lead domain.Lead
		want domain.ChannelKind
	}{
		{"empty preference", domain.Lead{}, domain.ChannelEmail},
		{"email", domain.Lead{PreferredChannel: domain.ChannelEmail}, domain.ChannelEmail},
		{"sms with phone", domain.Lead{PreferredChannel: domain.ChannelSMS, Phone: "+1555"}, domain.ChannelSMS},
		{"sms without phone", domain.Lead{PreferredChannel: domain.ChannelSMS}, domain.ChannelEmail},
		{"chat maps to webchat", domain.Lead{PreferredChannel: domain.ChannelChat}, domain.ChannelWebChat},
		{"unregistered", domain.Lead{PreferredChannel: domain.ChannelFacebook}, domain.ChannelEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Route(&tt.lead); got != tt.want {
				t.Errorf("Route = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatcher_DeliverSMSFallsBackToEmail(t *testing.T) {
	email := &fakeSender{kind: domain.ChannelEmail}
	sms := &fakeSender{kind: domain.ChannelSMS}
	d := newTestDispatcher(email, sms)

	lead := &domain.Lead{ID: 1, Email: "jo@example.com", PreferredChannel: domain.ChannelSMS}
	res := d.Deliver(context.Background(), lead, "hello", "")

	if !res.Success || res.Channel != domain.ChannelEmail || res.To != "jo@example.com" {
		t.Fatalf("result = %+v", res)
	}
	if len(sms.sent) != 0 || len(email.sent) != 1 {
		t.Errorf("sms sent %d, email sent %d", len(sms.sent), len(email.sent))
	}
	if email.subject != DefaultSubject {
		t.Errorf("subject = %q", email.subject)
	}
	if res.SentAt.IsZero() {
		t.Error("SentAt should be stamped")
	}
}

func TestDispatcher_DeliverFailureIsReported(t *testing.T) {
	email := &fakeSender{kind: domain.ChannelEmail, err: errors.New("smtp down")}
	d := newTestDispatcher(email)

	res := d.Deliver(context.Background(), &domain.Lead{ID: 2, Email: "x@example.com"}, "hi", "Subject")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "smtp down" {
		t.Errorf("error = %q", res.Error)
	}
	if !res.SentAt.IsZero() {
		t.Error("SentAt should be zero on failure")
	}
}

func TestDispatcher_NoSender(t *testing.T) {
	d := newTestDispatcher()
	res := d.Deliver(context.Background(), &domain.Lead{ID: 3, Email: "x@example.com"}, "hi", "")
	if res.Success || !strings.Contains(res.Error, "no sender") {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatcher_ThrottleHonoursContext(t *testing.T) {
	email := &fakeSender{kind: domain.ChannelEmail}
	d := NewDispatcher(DispatcherConfig{Senders: []domain.Sender{email}, RatePerSecond: 0.001, Burst: 1, Logger: testLogger()})
	lead := &domain.Lead{ID: 4, Email: "x@example.com"}

	if res := d.Deliver(context.Background(), lead, "first", ""); !res.Success {
		t.Fatalf("first delivery failed: %+v", res)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Deliver(ctx, lead, "second", "")
	if res.Success || !strings.Contains(res.Error, "throttled") {
		t.Errorf("second delivery = %+v", res)
	}
	if len(email.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(email.sent))
	}
}

func TestEmail_Send(t *testing.T) {
	e := NewEmail(EmailConfig{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p", From: "sales@example.com", Logger: testLogger()})
	e.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotMsg string
	var gotAuth smtp.Auth
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	lead := &domain.Lead{Email: "jo@example.com"}
	if err := e.Send(context.Background(), lead, "line one\nline two", "Meeting Confirmation"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when username is set")
	}
	if len(gotTo) != 1 || gotTo[0] != "jo@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{
		"From: sales@example.com\r\n",
		"To: jo@example.com\r\n",
		"Subject: Meeting Confirmation\r\n",
		"Content-Type: text/plain",
		"\r\n\r\nline one\r\nline two",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestEmail_NoAddress(t *testing.T) {
	e := NewEmail(EmailConfig{Host: "smtp.example.com", From: "a@b.co", Logger: testLogger()})
	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail should not be called")
		return nil
	}
	err := e.Send(context.Background(), &domain.Lead{}, "hi", "")
	if !errors.Is(err, domain.ErrNoAddress) {
		t.Errorf("err = %v, want ErrNoAddress", err)
	}
}
