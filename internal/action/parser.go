// Package action extracts directives embedded in generated replies and
// executes them against the sales collaborators.
package action

import (
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

// Tag grammar:
//
//	tag   := "[ACTION:" body "]"
//	body  := type ( "|" field )*
//	field := key "=" value      (split on the first "=")
//
// The body runs to the first "]" on the same line. A newline or a second
// "[" before it means the opener is plain text. A tag whose type field is
// blank is malformed: its span is removed but no Action is produced.
const (
	tagOpen  = "[ACTION:"
	tagClose = ']'
)

// span is a located tag: [start, end) in the source text and its body.
type span struct {
	start, end int
	body       string
}

// scan returns every complete tag in text, left to right.
func scan(text string) []span {
	var spans []span
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], tagOpen)
		if i < 0 {
			break
		}
		start := pos + i
		bodyStart := start + len(tagOpen)
		j := strings.IndexAny(text[bodyStart:], "]\n[")
		if j < 0 {
			break
		}
		if text[bodyStart+j] != tagClose {
			pos = bodyStart
			continue
		}
		end := bodyStart + j + 1
		spans = append(spans, span{start: start, end: end, body: text[bodyStart : end-1]})
		pos = end
	}
	return spans
}

func strip(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// parseBody decodes one tag body. ok is false for malformed bodies.
func parseBody(body string) (domain.Action, bool) {
	fields := strings.Split(body, "|")
	typ := strings.TrimSpace(fields[0])
	if typ == "" {
		return domain.Action{}, false
	}
	a := domain.Action{Type: domain.ActionType(typ)}
	for _, f := range fields[1:] {
		key, value, found := strings.Cut(f, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if a.Params == nil {
			a.Params = make(map[string]string)
		}
		a.Params[key] = strings.TrimSpace(value)
	}
	return a, true
}

// Parse splits generated text into the text shown to the lead and the
// actions it embeds, in order of appearance. Text around the tags is left
// untouched. Removing a tag can join fragments into a new tag; such spans
// are stripped as well but never become actions.
func Parse(text string) (string, []domain.Action) {
	spans := scan(text)
	var actions []domain.Action
	for _, s := range spans {
		if a, ok := parseBody(s.body); ok {
			actions = append(actions, a)
		}
	}

	display := strip(text, spans)
	for {
		leftover := scan(display)
		if len(leftover) == 0 {
			break
		}
		display = strip(display, leftover)
	}
	return display, actions
}
