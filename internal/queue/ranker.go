package queue

import (
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

var urgencyKeywords = []string{
	"urgent", "asap", "emergency", "immediately",
	"buy now", "purchase now", "sign up now", "ready to proceed",
}

var purchaseIntentPhrases = []string{
	"ready to buy", "credit card", "payment", "purchase",
	"sign contract", "let's do it", "move forward",
}

// Signals are the inputs the ranker folds into a priority.
type Signals struct {
	Status      domain.LeadStatus
	Temperature domain.Temperature
	Text        string
	Compound    float64
	// EarlyContact marks the lead's first or second message in the conversation.
	EarlyContact bool
}

// Rank computes the priority for an inbound message. Every signal can only
// raise the level, except purchase intent which sets IMMEDIATE outright.
func Rank(s Signals) domain.PriorityLevel {
	p := domain.PriorityMedium
	raise := func(to domain.PriorityLevel) {
		if to > p {
			p = to
		}
	}

	switch s.Status {
	case domain.StatusNew, domain.StatusQualified, domain.StatusMeetingScheduled:
		raise(domain.PriorityHigh)
	case domain.StatusNegotiating:
		raise(domain.PriorityUrgent)
	}

	switch s.Temperature {
	case domain.TemperatureHot:
		raise(domain.PriorityHigh)
	case domain.TemperatureWarm:
		raise(domain.PriorityMedium)
	}

	text := strings.ToLower(s.Text)
	if containsAny(text, urgencyKeywords) {
		raise(domain.PriorityUrgent)
	}

	if s.EarlyContact {
		raise(domain.PriorityHigh)
	}

	switch {
	case s.Compound <= -0.5:
		raise(domain.PriorityUrgent)
	case s.Compound <= -0.2:
		raise(domain.PriorityHigh)
	}

	if HasPurchaseIntent(text) {
		p = domain.PriorityImmediate
	}
	return p
}

// HasPurchaseIntent reports whether text carries an explicit buying signal.
func HasPurchaseIntent(text string) bool {
	return containsAny(strings.ToLower(text), purchaseIntentPhrases)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
