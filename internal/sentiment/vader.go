package sentiment

import (
	"fmt"

	"github.com/jonreiter/govader"

	"github.com/saare1/aisales/internal/domain"
)

// Vader scores text with the VADER valence lexicon, which handles negation,
// boosters, capitalisation, punctuation emphasis and "but" clauses.
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVader builds the analyzer from the lexicon bundled with govader.
func NewVader() (v *Vader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load vader lexicon: %v", r)
		}
	}()
	a := govader.NewSentimentIntensityAnalyzer()
	if a == nil {
		return nil, fmt.Errorf("load vader lexicon: nil analyzer")
	}
	return &Vader{analyzer: a}, nil
}

func (v *Vader) Name() string { return "vader" }

func (v *Vader) Score(text string) domain.Sentiment {
	s := v.analyzer.PolarityScores(text)
	if sum := s.Positive + s.Negative + s.Neutral; !(sum > 0) {
		// No scorable tokens.
		return domain.Sentiment{Neutral: 1, Category: domain.SentimentNeutral}
	}
	compound := clamp(s.Compound)
	return domain.Sentiment{
		Positive: s.Positive,
		Negative: s.Negative,
		Neutral:  s.Neutral,
		Compound: compound,
		Category: Categorize(compound),
	}
}

func clamp(x float64) float64 {
	switch {
	case x > 1:
		return 1
	case x < -1:
		return -1
	}
	return x
}
