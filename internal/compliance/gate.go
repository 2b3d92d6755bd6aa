// Package compliance screens lead conversation text against ordered risk
// categories before any generated reply is allowed through.
package compliance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

// Rule is one risk category with its detection patterns and deflection reply.
type Rule struct {
	Category domain.RiskCategory
	Patterns []string
	Response string // empty: generic deflection
}

type compiledRule struct {
	category domain.RiskCategory
	patterns []*regexp.Regexp
	response string
}

// Gate evaluates text against an ordered rule table. The first category with
// a match wins. A Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	rules []compiledRule
}

// NewGate compiles rules in the given order.
func NewGate(rules []Rule) (*Gate, error) {
	g := &Gate{rules: make([]compiledRule, 0, len(rules))}
	seen := make(map[domain.RiskCategory]bool, len(rules))
	for _, r := range rules {
		if r.Category == "" {
			return nil, fmt.Errorf("rule with empty category")
		}
		if seen[r.Category] {
			return nil, fmt.Errorf("duplicate category %q", r.Category)
		}
		seen[r.Category] = true
		compiled, err := compilePatterns(r.Patterns)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", r.Category, err)
		}
		g.rules = append(g.rules, compiledRule{category: r.Category, patterns: compiled, response: r.Response})
	}
	return g, nil
}

// NewDefaultGate builds a Gate from DefaultRules.
func NewDefaultGate() *Gate {
	g, err := NewGate(DefaultRules())
	if err != nil {
		panic("compliance: default rules: " + err.Error())
	}
	return g
}

// Check scans text and returns the verdict. Evidence lists every match of
// the winning category in pattern order, repeats included. It has no side
// effects.
func (g *Gate) Check(text string) domain.Verdict {
	normalized := strings.ToLower(text)
	for _, r := range g.rules {
		var evidence []string
		for _, re := range r.patterns {
			evidence = append(evidence, re.FindAllString(normalized, -1)...)
		}
		if len(evidence) > 0 {
			return domain.Verdict{Blocked: true, Category: r.category, Evidence: evidence}
		}
	}
	return domain.Verdict{}
}

// Deflection returns the fixed reply sent instead of a generated one when a
// message is blocked under category.
func (g *Gate) Deflection(category domain.RiskCategory) string {
	for _, r := range g.rules {
		if r.category == category && r.response != "" {
			return r.response
		}
	}
	return GenericDeflection
}

// Categories lists the table's categories in evaluation order.
func (g *Gate) Categories() []domain.RiskCategory {
	out := make([]domain.RiskCategory, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.category
	}
	return out
}

// Plain phrases become case-insensitive literal matches.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(`(?i)` + p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '.', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}
