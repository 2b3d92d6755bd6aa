package domain

import "time"

type RiskCategory string

const (
	RiskIllegalActivity      RiskCategory = "illegal_activity"
	RiskPrivacyViolation     RiskCategory = "privacy_violation"
	RiskFinancialFraud       RiskCategory = "financial_fraud"
	RiskDiscrimination       RiskCategory = "discrimination"
	RiskHarassment           RiskCategory = "harassment"
	RiskInappropriateContent RiskCategory = "inappropriate_content"
	RiskOther                RiskCategory = "other"
)

// Verdict is the outcome of a compliance check. A zero Verdict is Compliant.
type Verdict struct {
	Blocked  bool         `json:"blocked"`
	Category RiskCategory `json:"category,omitempty"`
	Evidence []string     `json:"evidence,omitempty"`
}

func (v Verdict) Compliant() bool { return !v.Blocked }

// AuditEntry records a compliance decision taken on a lead conversation.
type AuditEntry struct {
	ID          int64        `json:"id"`
	LeadID      int64        `json:"lead_id"`
	Category    RiskCategory `json:"category"`
	Evidence    []string     `json:"evidence"`
	Message     string       `json:"message"`
	ActionTaken string       `json:"action_taken"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Notification priorities used by the orchestrator.
const (
	NotifyPriorityNormal = 1
	NotifyPriorityMedium = 2
	NotifyPriorityHigh   = 3
)

type Notification struct {
	ID        int64     `json:"id"`
	LeadID    int64     `json:"lead_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Priority  int       `json:"priority"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
