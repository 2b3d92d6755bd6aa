package recommend

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/saare1/aisales/internal/domain"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"you": true, "your": true, "our": true, "are": true, "can": true, "have": true,
	"need": true, "needs": true, "want": true, "looking": true, "from": true, "about": true,
	"will": true, "would": true, "what": true, "how": true, "any": true, "not": true,
}

// KeywordMatch ranks products by how many of the lead's interest terms appear
// in the product text. Products with no overlap are never recommended.
func KeywordMatch(lead *domain.Lead, products []domain.Product, history []domain.ConversationMessage, max int) []domain.Recommendation {
	interest := terms(lead.Needs + " " + lead.Notes + " " + lead.JobTitle)
	for _, m := range history {
		if m.FromLead {
			for t := range terms(m.Content) {
				interest[t] = true
			}
		}
	}
	if len(interest) == 0 {
		return nil
	}

	type scored struct {
		rec     domain.Recommendation
		overlap int
	}
	var ranked []scored
	for _, p := range products {
		productTerms := terms(strings.Join([]string{p.Name, p.Description, p.Category, p.Features}, " "))
		var matched []string
		for t := range interest {
			if productTerms[t] {
				matched = append(matched, t)
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		ranked = append(ranked, scored{
			rec: domain.Recommendation{
				ProductID:  p.ID,
				Confidence: clamp(0.4 + 0.1*float64(len(matched))),
				Reasons:    []string{fmt.Sprintf("Matches interest in %s", strings.Join(matched, ", "))},
			},
			overlap: len(matched),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].overlap > ranked[j].overlap })

	var out []domain.Recommendation
	for i := 0; i < len(ranked) && i < max; i++ {
		r := ranked[i].rec
		if r.Confidence > 0.9 {
			r.Confidence = 0.9
		}
		out = append(out, r)
	}
	return out
}

func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}
