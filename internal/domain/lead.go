package domain

import (
	"strings"
	"time"
)

type LeadStatus string

const (
	StatusNew              LeadStatus = "new"
	StatusQualifying       LeadStatus = "qualifying"
	StatusInterested       LeadStatus = "interested"
	StatusQualified        LeadStatus = "qualified"
	StatusNegotiating      LeadStatus = "negotiating"
	StatusMeetingScheduled LeadStatus = "meeting_scheduled"
	StatusWon              LeadStatus = "won"
	StatusLost             LeadStatus = "lost"
	StatusDormant          LeadStatus = "dormant"
)

var leadStatuses = []LeadStatus{
	StatusNew, StatusQualifying, StatusInterested, StatusQualified, StatusNegotiating,
	StatusMeetingScheduled, StatusWon, StatusLost, StatusDormant,
}

// ParseLeadStatus accepts a status name in any case.
func ParseLeadStatus(s string) (LeadStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range leadStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// ChannelKind identifies how a lead is reached.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelSMS      ChannelKind = "sms"
	ChannelChat     ChannelKind = "chat"
	ChannelWebChat  ChannelKind = "webchat"
	ChannelWhatsApp ChannelKind = "whatsapp"
	ChannelFacebook ChannelKind = "facebook"
	ChannelTelegram ChannelKind = "telegram"
	ChannelDiscord  ChannelKind = "discord"
	ChannelSlack    ChannelKind = "slack"
)

type Lead struct {
	ID               int64       `json:"id"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	Email            string      `json:"email"`
	Phone            string      `json:"phone,omitempty"`
	Company          string      `json:"company,omitempty"`
	JobTitle         string      `json:"job_title,omitempty"`
	Source           string      `json:"source,omitempty"`
	Status           LeadStatus  `json:"status"`
	Notes            string      `json:"notes,omitempty"`
	Budget           string      `json:"budget,omitempty"`
	Needs            string      `json:"needs,omitempty"`
	Objections       string      `json:"objections,omitempty"`
	PreferredChannel ChannelKind `json:"preferred_channel"`
	ExternalID       string      `json:"external_id,omitempty"` // chat address on telegram/discord/slack/webchat
	Temperature      Temperature `json:"temperature,omitempty"`
	FollowupCount    int         `json:"followup_count"`
	Active           bool        `json:"is_active"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	LastContact      *time.Time  `json:"last_contact,omitempty"`
}

func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// Greeting name: first name, falling back to "there".
func (l *Lead) GreetingName() string {
	if l.FirstName != "" {
		return l.FirstName
	}
	return "there"
}

// ConversationMessage is one persisted line of a lead conversation.
type ConversationMessage struct {
	ID        int64       `json:"id"`
	LeadID    int64       `json:"lead_id"`
	Content   string      `json:"content"`
	FromLead  bool        `json:"is_from_lead"`
	Channel   ChannelKind `json:"channel"`
	Sentiment *float64    `json:"sentiment_score,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ScoredMessage is a past lead message with its compound sentiment.
type ScoredMessage struct {
	MessageID int64     `json:"message_id"`
	Content   string    `json:"content"`
	Compound  float64   `json:"compound"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}
