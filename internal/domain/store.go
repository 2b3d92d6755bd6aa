package domain

import (
	"context"
	"time"
)

// LeadUpdate is a partial update; nil fields are left untouched.
type LeadUpdate struct {
	Status        *LeadStatus
	Budget        *string
	Needs         *string
	Objections    *string
	Notes         *string
	Temperature   *Temperature
	FollowupCount *int
	Active        *bool
	LastContact   *time.Time
}

func (u LeadUpdate) Empty() bool {
	return u.Status == nil && u.Budget == nil && u.Needs == nil && u.Objections == nil &&
		u.Notes == nil && u.Temperature == nil && u.FollowupCount == nil && u.Active == nil &&
		u.LastContact == nil
}

type Meeting struct {
	ID              string    `json:"id"`
	LeadID          int64     `json:"lead_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
	Link            string    `json:"link,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Followup struct {
	ID           string      `json:"id"`
	LeadID       int64       `json:"lead_id"`
	Channel      ChannelKind `json:"channel"`
	Content      string      `json:"content"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Executed     bool        `json:"executed"`
	ExecutedAt   *time.Time  `json:"executed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price"`
	Features    string  `json:"features,omitempty"`
	Active      bool    `json:"is_active"`
}

type Recommendation struct {
	ID          int64     `json:"id"`
	LeadID      int64     `json:"lead_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Confidence  float64   `json:"confidence"`
	Reasons     []string  `json:"reasons"`
	CreatedAt   time.Time `json:"created_at"`
}

// LeadStore persists leads. Lookups return (nil, nil) when nothing matches.
type LeadStore interface {
	GetLead(ctx context.Context, id int64) (*Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*Lead, error)
	GetLeadByExternal(ctx context.Context, channel ChannelKind, externalID string) (*Lead, error)
	CreateLead(ctx context.Context, lead *Lead) (int64, error)
	UpdateLeadFields(ctx context.Context, id int64, u LeadUpdate) error
	ListLeads(ctx context.Context, limit int) ([]Lead, error)
}

// ConversationStore persists lead conversation history.
type ConversationStore interface {
	SaveMessage(ctx context.Context, leadID int64, content string, fromLead bool, channel ChannelKind, sentiment *float64) (int64, error)
	// History returns up to limit messages, newest first.
	History(ctx context.Context, leadID int64, limit int) ([]ConversationMessage, error)
	// ScoredMessages returns lead messages carrying a sentiment score created
	// at or after since, newest first. limit <= 0 means no limit.
	ScoredMessages(ctx context.Context, leadID int64, since time.Time, limit int) ([]ConversationMessage, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditLog(ctx context.Context, leadID int64, limit int) ([]AuditEntry, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) (int64, error)
	Notifications(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

type ScheduleStore interface {
	SaveMeeting(ctx context.Context, m Meeting) error
	Meetings(ctx context.Context, leadID int64) ([]Meeting, error)
	SaveFollowup(ctx context.Context, f Followup) error
	DueFollowups(ctx context.Context, now time.Time, limit int) ([]Followup, error)
	MarkFollowupExecuted(ctx context.Context, id string, at time.Time) error
}

type CatalogStore interface {
	Products(ctx context.Context, activeOnly bool) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	CreateProduct(ctx context.Context, p Product) (int64, error)
	CreateRecommendation(ctx context.Context, r Recommendation) (int64, error)
	Recommendations(ctx context.Context, leadID int64) ([]Recommendation, error)
}

// RecordStore is the full persistence surface used by the sales pipeline.
type RecordStore interface {
	LeadStore
	ConversationStore
	AuditStore
	NotificationStore
	ScheduleStore
	CatalogStore
	Close() error
}

// Scheduler books meetings and follow-ups for a lead.
type Scheduler interface {
	ScheduleMeeting(ctx context.Context, lead *Lead, timeExpr string, durationMinutes int, notes string) (*Meeting, error)
	ScheduleFollowup(ctx context.Context, lead *Lead, timeExpr string, message string) (*Followup, error)
}

// Recommender produces product recommendations for a lead.
type Recommender interface {
	Generate(ctx context.Context, lead *Lead, max int) ([]Recommendation, error)
	Existing(ctx context.Context, leadID int64) ([]Recommendation, error)
	Create(ctx context.Context, leadID, productID int64) (*Recommendation, error)
}

// Notifier raises a notification for human follow-up.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (int64, error)
}
