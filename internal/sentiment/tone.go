package sentiment

import (
	"regexp"
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

type toneModifier struct {
	opener string
	closer string
}

var toneModifiers = map[domain.Category]toneModifier{
	domain.SentimentPositive: {
		opener: "It's great to hear from you! ",
		closer: "I'm looking forward to our continued conversation!",
	},
	domain.SentimentNegative: {
		opener: "I understand your concerns. ",
		closer: "I'm here to help address any issues you have.",
	},
	domain.SentimentNeutral: {
		opener: "Thank you for your message. ",
		closer: "Please let me know if you have any questions.",
	},
}

var greetingPattern = regexp.MustCompile(`^(hi|hello|hey|greetings|good (morning|afternoon|evening))\b`)

// AdjustTone prefixes a category-appropriate opener unless the text already
// opens with a greeting or that opener, and appends the category closer unless it is
// already there.
func AdjustTone(text string, category domain.Category) string {
	mod, ok := toneModifiers[category]
	if !ok {
		mod = toneModifiers[domain.SentimentNeutral]
	}

	body := strings.TrimSpace(text)
	if body == "" {
		return mod.opener + mod.closer
	}

	var b strings.Builder
	if !greetingPattern.MatchString(strings.ToLower(body)) && !strings.HasPrefix(body, mod.opener) {
		b.WriteString(mod.opener)
	}
	b.WriteString(body)

	if strings.HasSuffix(body, mod.closer) {
		return b.String()
	}
	if endsSentence(body) {
		b.WriteString(" ")
	} else {
		b.WriteString(". ")
	}
	b.WriteString(mod.closer)
	return b.String()
}

func endsSentence(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}
