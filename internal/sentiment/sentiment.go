// Package sentiment scores lead messages and shapes reply tone.
package sentiment

import (
	"log/slog"

	"github.com/saare1/aisales/internal/domain"
)

const (
	PositiveThreshold = 0.05
	NegativeThreshold = -0.05
)

// Scorer produces a bounded sentiment score for text.
type Scorer interface {
	Score(text string) domain.Sentiment
	Name() string
}

// Categorize maps a compound score onto a category. Both bounds are inclusive.
func Categorize(compound float64) domain.Category {
	switch {
	case compound >= PositiveThreshold:
		return domain.SentimentPositive
	case compound <= NegativeThreshold:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// Analyzer names accepted by New.
const (
	AnalyzerVader   = "vader"
	AnalyzerKeyword = "keyword"
)

// New returns the scorer named by analyzer. Empty selects VADER. If the
// VADER lexicon cannot be loaded the keyword scorer is used instead.
func New(analyzer string, logger *slog.Logger) Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	switch analyzer {
	case "", AnalyzerVader:
	case AnalyzerKeyword:
		return NewKeyword()
	default:
		logger.Warn("unknown sentiment analyzer, using vader", "analyzer", analyzer)
	}
	v, err := NewVader()
	if err != nil {
		logger.Warn("sentiment analyzer unavailable, using keyword scorer", "err", err)
		return NewKeyword()
	}
	return v
}
