package sentiment

import (
	"regexp"
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

var positiveKeywords = []string{
	"great", "good", "excellent", "amazing", "wonderful", "fantastic",
	"happy", "pleased", "satisfied", "love", "like", "enjoy",
	"thanks", "thank you", "appreciate", "helpful", "perfect",
	"excited", "looking forward", "interested", "yes", "sure",
}

var negativeKeywords = []string{
	"bad", "poor", "terrible", "awful", "horrible", "disappointing",
	"unhappy", "dissatisfied", "dislike", "hate", "annoying", "frustrating",
	"problem", "issue", "complaint", "wrong", "mistake", "error",
	"expensive", "costly", "waste", "difficult", "hard", "confusing",
	"no", "not", "cannot", "won't", "doesn't", "don't", "never", "fail",
}

// Keyword counts which fixed positive and negative keywords occur in the
// text. It needs no external resource and is fully deterministic.
type Keyword struct {
	positive []*regexp.Regexp
	negative []*regexp.Regexp
}

func NewKeyword() *Keyword {
	return &Keyword{
		positive: wordPatterns(positiveKeywords),
		negative: wordPatterns(negativeKeywords),
	}
}

func (k *Keyword) Name() string { return "keyword" }

func (k *Keyword) Score(text string) domain.Sentiment {
	lower := strings.ToLower(text)
	pc := countMatches(k.positive, lower)
	nc := countMatches(k.negative, lower)

	total := pc + nc
	if total == 0 {
		return domain.Sentiment{Neutral: 1, Category: domain.SentimentNeutral}
	}
	pos := float64(pc) / float64(total)
	neg := float64(nc) / float64(total)
	compound := pos - neg
	return domain.Sentiment{
		Positive: pos,
		Negative: neg,
		Neutral:  1 - pos - neg,
		Compound: compound,
		Category: Categorize(compound),
	}
}

// countMatches counts keywords present at least once.
func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// Keywords match whole words so "no" does not fire inside "know".
func wordPatterns(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`(^|[^a-z'])` + regexp.QuoteMeta(w) + `($|[^a-z'])`)
	}
	return out
}
