package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/sentiment"
)

// ConversationContext is everything a prompt needs about one lead. It is
// rebuilt from the store on every turn and never cached.
type ConversationContext struct {
	Lead *domain.Lead
	// History is the transcript window, oldest first.
	History    []domain.ConversationMessage
	Transcript string
	// Sentiment is the score of the message that triggered the turn, if any.
	Sentiment       *domain.Sentiment
	RecentSentiment []domain.ScoredMessage
	Trend           sentiment.Trend
	// DaysSinceContact is -1 when the lead was never contacted.
	DaysSinceContact int
}

func (o *Orchestrator) assemble(ctx context.Context, lead *domain.Lead, current *domain.Sentiment) (*ConversationContext, error) {
	history, err := o.cfg.Store.History(ctx, lead.ID, o.cfg.Agent.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// Store order is newest first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	cc := &ConversationContext{
		Lead:             lead,
		History:          history,
		Transcript:       formatTranscript(lead, history),
		Sentiment:        current,
		DaysSinceContact: daysSince(lead.LastContact, o.now()),
	}
	if current == nil {
		return cc, nil
	}

	recent, err := o.tracker.History(ctx, lead.ID, o.cfg.Agent.SentimentHistory)
	if err != nil {
		return nil, err
	}
	trend, err := o.tracker.Trend(ctx, lead.ID, o.cfg.Agent.SentimentWindowDays)
	if err != nil {
		return nil, err
	}
	cc.RecentSentiment = recent
	cc.Trend = trend
	return cc, nil
}

func formatTranscript(lead *domain.Lead, history []domain.ConversationMessage) string {
	var b strings.Builder
	name := lead.FullName()
	if name == "" {
		name = "Lead"
	}
	for _, m := range history {
		who := "Agent"
		if m.FromLead {
			who = name
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.UTC().Format("2006-01-02 15:04"), who, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
