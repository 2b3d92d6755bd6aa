package compliance

import (
	"fmt"
	"os"

	"github.com/saare1/aisales/internal/domain"
	"gopkg.in/yaml.v3"
)

const GenericDeflection = "I apologize, but I'm unable to discuss this topic as it may violate our company's compliance policies. " +
	"I'll connect you with a human representative who can better assist you with your inquiry. They will contact you shortly."

// DefaultRules returns the built-in risk table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: domain.RiskIllegalActivity,
			Patterns: []string{
				`\b(illegal|illicit|criminal)\s+(activity|activities|operation|deal)`,
				`\b(drug|weapon|human)\s+(trafficking|smuggling|trade)`,
				`\blaunder(ing)?\s+(money|cash|funds)`,
				`\b(evad(e|ing)|avoid(ing)?)\s+(tax(es)?|sanctions|regulations)`,
			},
			Response: "I apologize, but I cannot assist with activities that may be illegal or violate regulations. " +
				"I'll connect you with a human representative who can clarify what services we can legally provide. They will contact you shortly.",
		},
		{
			Category: domain.RiskPrivacyViolation,
			Patterns: []string{
				`\b(steal|hack|obtain|extract)\s+(personal|private|sensitive)\s+(data|information)`,
				`\b(bypass|circumvent)\s+(security|authentication|verification)`,
				`\baccess\s+(unauthorized|restricted)\s+(data|systems|accounts)`,
				`\b(spy|monitor|track)\s+without\s+(consent|permission|knowledge)`,
			},
			Response: "I apologize, but I cannot assist with requests that may violate privacy rights or data protection laws. " +
				"I'll connect you with a human representative who can discuss our privacy-compliant services. They will contact you shortly.",
		},
		{
			Category: domain.RiskFinancialFraud,
			Patterns: []string{
				`\b(pyramid|ponzi)\s+scheme`,
				`\bfalse\s+(investment|return|profit)`,
				`\b(fake|phishing|scam)\s+(website|payment|invoice)`,
				`\bidentity\s+theft`,
				`\bcounterfeit\s+(money|currency|goods)`,
				`\bfraudul(ent|ently)`,
			},
			Response: "I apologize, but I cannot assist with requests that may involve financial fraud or deception. " +
				"I'll connect you with a human representative who can discuss our legitimate financial services. They will contact you shortly.",
		},
		{
			Category: domain.RiskDiscrimination,
			Patterns: []string{
				`\b(discriminate|discriminating|discrimination)\s+against`,
				`\b(racial|ethnic|religious|gender)\s+(discrimination|bias|prejudice)`,
				`\b(target|exclude)\s+based\s+on\s+(race|gender|religion|age|disability)`,
			},
		},
		{
			Category: domain.RiskHarassment,
			Patterns: []string{
				`\b(harass|threaten|intimidate|bully)`,
				`\b(sexual|verbal|physical)\s+harassment`,
				`\bhostile\s+(environment|workplace|behavior)`,
			},
		},
		{
			Category: domain.RiskInappropriateContent,
			Patterns: []string{
				`\b(explicit|obscene|pornographic)\s+(content|material|imagery)`,
				`\b(share|distribute|sell)\s+(adult|explicit)\s+content`,
				`\b(sexualized|violent)\s+content`,
			},
		},
		{
			Category: domain.RiskOther,
			Patterns: []string{
				`\b(bribe|corruption|kickback)`,
				`\binsider\s+trading`,
				`\b(corporate|business)\s+espionage`,
			},
		},
	}
}

// rulesFile is the on-disk layout of a custom risk table.
type rulesFile struct {
	Categories []struct {
		Name     string   `yaml:"name"`
		Patterns []string `yaml:"patterns"`
		Response string   `yaml:"response,omitempty"`
	} `yaml:"categories"`
	// Extend appends the file's categories after the built-in table instead of replacing it.
	Extend bool `yaml:"extend"`
}

// LoadRules reads a YAML risk table. Category order in the file is the
// evaluation order.
//
//	extend: false
//	categories:
//	  - name: illegal_activity
//	    patterns: ['\bevade\s+taxes']
//	    response: "..."
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("rules file has no categories")
	}

	var rules []Rule
	if f.Extend {
		rules = DefaultRules()
	}
	for _, c := range f.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category without name")
		}
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("category %s has no patterns", c.Name)
		}
		rules = append(rules, Rule{
			Category: domain.RiskCategory(c.Name),
			Patterns: c.Patterns,
			Response: c.Response,
		})
	}
	return rules, nil
}

// NewGateFromConfig returns the default gate, or one built from path when set.
func NewGateFromConfig(path string) (*Gate, error) {
	if path == "" {
		return NewDefaultGate(), nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewGate(rules)
}
