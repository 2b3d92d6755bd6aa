package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

type Direction string

const (
	TrendImproving        Direction = "improving"
	TrendDeclining        Direction = "declining"
	TrendStable           Direction = "stable"
	TrendInsufficientData Direction = "insufficient_data"
)

// trendBand keeps small swings between halves from flipping the trend.
const trendBand = 0.1

type Trend struct {
	Average  float64         `json:"average"`
	Category domain.Category `json:"category"`
	Trend    Direction       `json:"trend"`
	Count    int             `json:"count"`
}

// HistorySource is the subset of the record store the tracker reads.
type HistorySource interface {
	ScoredMessages(ctx context.Context, leadID int64, since time.Time, limit int) ([]domain.ConversationMessage, error)
}

// Tracker reports sentiment history and trend for a lead from stored scores.
type Tracker struct {
	src HistorySource
	now func() time.Time
}

func NewTracker(src HistorySource) *Tracker {
	return &Tracker{src: src, now: time.Now}
}

// History returns up to limit scored lead messages, newest first.
func (t *Tracker) History(ctx context.Context, leadID int64, limit int) ([]domain.ScoredMessage, error) {
	msgs, err := t.src.ScoredMessages(ctx, leadID, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("sentiment history: %w", err)
	}
	out := make([]domain.ScoredMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Sentiment == nil {
			continue
		}
		out = append(out, domain.ScoredMessage{
			MessageID: m.ID,
			Content:   m.Content,
			Compound:  *m.Sentiment,
			Category:  Categorize(*m.Sentiment),
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// Trend compares the average of the older and newer halves of the scored
// messages in the last windowDays days.
func (t *Tracker) Trend(ctx context.Context, leadID int64, windowDays int) (Trend, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := t.now().AddDate(0, 0, -windowDays)
	msgs, err := t.src.ScoredMessages(ctx, leadID, since, 0)
	if err != nil {
		return Trend{}, fmt.Errorf("sentiment trend: %w", err)
	}

	// Chronological order, oldest first.
	scores := make([]float64, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sentiment != nil {
			scores = append(scores, *msgs[i].Sentiment)
		}
	}
	return ComputeTrend(scores), nil
}

// ComputeTrend evaluates chronologically ordered compound scores.
func ComputeTrend(scores []float64) Trend {
	if len(scores) == 0 {
		return Trend{Category: domain.SentimentNeutral, Trend: TrendInsufficientData}
	}
	avg := mean(scores)
	tr := Trend{Average: avg, Category: Categorize(avg), Count: len(scores), Trend: TrendInsufficientData}
	if len(scores) < 2 {
		return tr
	}
	mid := len(scores) / 2
	early, recent := mean(scores[:mid]), mean(scores[mid:])
	switch {
	case recent > early+trendBand:
		tr.Trend = TrendImproving
	case recent < early-trendBand:
		tr.Trend = TrendDeclining
	default:
		tr.Trend = TrendStable
	}
	return tr
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
