package domain

import (
	"fmt"
	"time"
)

// PriorityLevel orders queued inbound messages; higher is served first.
type PriorityLevel int

const (
	PriorityLow       PriorityLevel = 1
	PriorityMedium    PriorityLevel = 2
	PriorityHigh      PriorityLevel = 3
	PriorityUrgent    PriorityLevel = 4
	PriorityImmediate PriorityLevel = 5
)

func (p PriorityLevel) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Category is a sentiment bucket.
type Category string

const (
	SentimentPositive Category = "positive"
	SentimentNegative Category = "negative"
	SentimentNeutral  Category = "neutral"
)

// Sentiment is the bounded score of one piece of text.
type Sentiment struct {
	Positive float64  `json:"positive"`
	Negative float64  `json:"negative"`
	Neutral  float64  `json:"neutral"`
	Compound float64  `json:"compound"`
	Category Category `json:"category"`
}

// InboundMessage is a lead message accepted from a channel. ID, Priority and
// Sentiment are stamped once when the message is enqueued.
type InboundMessage struct {
	ID         string            `json:"id"`
	LeadID     int64             `json:"lead_id"`
	LeadEmail  string            `json:"lead_email,omitempty"`
	Channel    ChannelKind       `json:"channel"`
	SenderID   string            `json:"sender_id,omitempty"` // channel-native address, e.g. telegram chat id
	SenderName string            `json:"sender_name,omitempty"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Priority   PriorityLevel     `json:"priority"`
	Sentiment  Sentiment         `json:"sentiment"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
