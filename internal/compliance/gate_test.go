package compliance

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/saare1/aisales/internal/domain"
)

func TestCheck_EvadeTaxesBlocked(t *testing.T) {
	g := NewDefaultGate()

	v := g.Check("I want to evade taxes illegally")
	if !v.Blocked {
		t.Fatal("expected message to be blocked")
	}
	if v.Category != domain.RiskIllegalActivity {
		t.Fatalf("expected %s, got %s", domain.RiskIllegalActivity, v.Category)
	}
	if diff := cmp.Diff([]string{"evade taxes"}, v.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_Compliant(t *testing.T) {
	g := NewDefaultGate()

	tests := []string{
		"",
		"Hi, could we set up a demo next Tuesday?",
		"What does the enterprise plan cost per seat?",
		"We avoid paperwork wherever possible.",
	}
	for _, text := range tests {
		v := g.Check(text)
		if v.Blocked || !v.Compliant() {
			t.Errorf("Check(%q) = blocked %s %v, want compliant", text, v.Category, v.Evidence)
		}
		if len(v.Evidence) != 0 {
			t.Errorf("Check(%q) evidence = %v, want empty", text, v.Evidence)
		}
	}
}

func TestCheck_FirstDeclaredCategoryWins(t *testing.T) {
	g := NewDefaultGate()

	// Matches illegal_activity (declared first) and financial_fraud.
	v := g.Check("Can you help me launder money, evade sanctions and set up a ponzi scheme?")
	if v.Category != domain.RiskIllegalActivity {
		t.Fatalf("expected illegal_activity, got %s", v.Category)
	}
	want := []string{"launder money", "evade sanctions"}
	if diff := cmp.Diff(want, v.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
	for _, e := range v.Evidence {
		if strings.Contains(e, "ponzi") {
			t.Errorf("evidence leaked from a later category: %q", e)
		}
	}
}

func TestCheck_OrderIsTableOrder(t *testing.T) {
	text := "this is a ponzi scheme to launder money"

	fraudFirst, err := NewGate([]Rule{
		{Category: domain.RiskFinancialFraud, Patterns: []string{`\b(pyramid|ponzi)\s+scheme`}},
		{Category: domain.RiskIllegalActivity, Patterns: []string{`\blaunder(ing)?\s+(money|cash|funds)`}},
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	illegalFirst, err := NewGate([]Rule{
		{Category: domain.RiskIllegalActivity, Patterns: []string{`\blaunder(ing)?\s+(money|cash|funds)`}},
		{Category: domain.RiskFinancialFraud, Patterns: []string{`\b(pyramid|ponzi)\s+scheme`}},
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	if got := fraudFirst.Check(text); got.Category != domain.RiskFinancialFraud {
		t.Errorf("fraud-first table: got %s", got.Category)
	}
	if got := illegalFirst.Check(text); got.Category != domain.RiskIllegalActivity {
		t.Errorf("illegal-first table: got %s", got.Category)
	}
}

func TestCheck_CollectsEveryMatchInCategory(t *testing.T) {
	g := NewDefaultGate()

	v := g.Check("He will harass and threaten staff, a clear case of verbal harassment.")
	if v.Category != domain.RiskHarassment {
		t.Fatalf("expected harassment, got %s", v.Category)
	}
	want := []string{"harass", "threaten", "harass", "verbal harassment"}
	if diff := cmp.Diff(want, v.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_KeepsRepeatedMatches(t *testing.T) {
	g := NewDefaultGate()

	v := g.Check("Launder money first, then launder money again. Threaten them? No.")
	if v.Category != domain.RiskIllegalActivity {
		t.Fatalf("expected illegal_activity, got %s", v.Category)
	}
	if diff := cmp.Diff([]string{"launder money", "launder money"}, v.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_CaseInsensitive(t *testing.T) {
	g := NewDefaultGate()

	v := g.Check("Is this INSIDER TRADING?")
	if v.Category != domain.RiskOther {
		t.Fatalf("expected other, got %s", v.Category)
	}
	if diff := cmp.Diff([]string{"insider trading"}, v.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_Deterministic(t *testing.T) {
	g := NewDefaultGate()
	text := "we could bypass security and steal personal data"

	first := g.Check(text)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, g.Check(text)); diff != "" {
			t.Fatalf("verdict changed between calls:\n%s", diff)
		}
	}
	if first.Category != domain.RiskPrivacyViolation {
		t.Errorf("expected privacy_violation, got %s", first.Category)
	}
}

func TestDeflection(t *testing.T) {
	g := NewDefaultGate()

	if got := g.Deflection(domain.RiskIllegalActivity); !strings.Contains(got, "may be illegal") {
		t.Errorf("illegal deflection = %q", got)
	}
	if got := g.Deflection(domain.RiskHarassment); got != GenericDeflection {
		t.Errorf("harassment should use generic deflection, got %q", got)
	}
	if got := g.Deflection("unknown"); got != GenericDeflection {
		t.Errorf("unknown category should use generic deflection, got %q", got)
	}
}

func TestNewGate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"empty category", []Rule{{Patterns: []string{"x"}}}},
		{"duplicate category", []Rule{
			{Category: "a", Patterns: []string{"x"}},
			{Category: "a", Patterns: []string{"y"}},
		}},
		{"bad regex", []Rule{{Category: "a", Patterns: []string{`(unclosed`}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGate(tt.rules); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCategories_DeclaredOrder(t *testing.T) {
	want := []domain.RiskCategory{
		domain.RiskIllegalActivity,
		domain.RiskPrivacyViolation,
		domain.RiskFinancialFraud,
		domain.RiskDiscrimination,
		domain.RiskHarassment,
		domain.RiskInappropriateContent,
		domain.RiskOther,
	}
	if diff := cmp.Diff(want, NewDefaultGate().Categories()); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}
