package agent

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

// EntryPoint names the reason for an orchestration turn.
type EntryPoint string

const (
	EntryInbound   EntryPoint = "inbound"
	EntryGreet     EntryPoint = "greet"
	EntryFollowup  EntryPoint = "followup"
	EntryClose     EntryPoint = "close"
	EntryObjection EntryPoint = "objection"
)

var funcs = template.FuncMap{
	"orUnknown": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "Unknown"
		}
		return s
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

var systemTmpl = template.Must(template.New("system").Funcs(funcs).Parse(`You are {{.AgentName}}, a sales agent for {{.CompanyName}}. Your goal is to convert warm leads into paying customers.
{{- if .ProductSummary}}

About the business:
{{.ProductSummary}}
{{- end}}

About the lead:
- Name: {{orUnknown .Lead.FullName}}
- Email: {{orUnknown .Lead.Email}}
- Company: {{orUnknown .Lead.Company}}
- Job Title: {{orUnknown .Lead.JobTitle}}
- Source: {{orUnknown .Lead.Source}}
- Current Status: {{.Lead.Status}}
- Needs: {{orUnknown .Lead.Needs}}
- Budget: {{orUnknown .Lead.Budget}}
- Objections: {{orUnknown .Lead.Objections}}

Conversation History:
{{- if .Transcript}}
{{.Transcript}}
{{- else}}
No previous conversation
{{- end}}
{{- if .Sentiment}}

Lead Sentiment Analysis:
- Current sentiment: {{title (print .Sentiment.Category)}} (score: {{printf "%.2f" .Sentiment.Compound}})
- Sentiment trend: {{title (print .Trend.Trend)}}
{{- range .RecentSentiment}}
- Earlier: {{printf "%.2f" .Compound}} ({{.Category}})
{{- end}}

Adjust your tone accordingly:
- For positive sentiment: Be enthusiastic and build on their excitement
- For negative sentiment: Be empathetic and focus on addressing concerns
- For neutral sentiment: Be balanced and informative
{{- end}}

Sales approach:
- Be friendly, confident and professional. Address the lead by name.
- Ask qualifying questions about needs and budget when they are not yet known.
- Address objections with empathy and evidence; never make unrealistic promises.
- Recognise buying signals and move toward a concrete next step.
- Offer to connect the lead with a human if they seem confused or frustrated.

You can trigger actions by embedding tags in your reply. They are removed before the lead sees it:
[ACTION:SCHEDULE_MEETING|time=<when>|duration=<minutes>|notes=<text>]
[ACTION:SCHEDULE_FOLLOWUP|time=<when>|message=<text>]
[ACTION:SEND_INFORMATION|type=<info>]
[ACTION:UPDATE_LEAD|status=<status>|budget=<text>|needs=<text>|objections=<text>|notes=<text>]
[ACTION:ESCALATE_TO_HUMAN|reason=<text>]
[ACTION:RECOMMEND_PRODUCT|product_id=<id>]
{{- if .Extra}}

{{.Extra}}
{{- end}}`))

var taskTmpls = map[EntryPoint]*template.Template{
	EntryInbound: template.Must(template.New("inbound").Parse(
		`The lead ({{.Name}}) has sent the following message: {{.Content}}`)),
	EntryGreet: template.Must(template.New("greet").Parse(
		`This is a new lead ({{.Name}}) from {{.Source}}. Generate a friendly, personalized greeting that introduces yourself and asks an appropriate qualifying question.`)),
	EntryFollowup: template.Must(template.New("followup").Parse(
		`Generate a follow-up message for the lead ({{.Name}}) who hasn't responded in {{.DaysSinceContact}} days. This is follow-up #{{.FollowupNumber}}.`)),
	EntryClose: template.Must(template.New("close").Parse(
		`The lead ({{.Name}}) is showing buying signals. Generate a closing message that summarizes the value proposition and provides a clear next step for purchase or commitment.`)),
	EntryObjection: template.Must(template.New("objection").Parse(
		`The lead ({{.Name}}) has raised an objection of type '{{.ObjectionType}}'. Here's what they said: '{{.Content}}'. Generate a response that addresses this objection empathetically and persuasively.`)),
}

type systemData struct {
	*ConversationContext
	AgentName      string
	CompanyName    string
	ProductSummary string
	Extra          string
}

type taskData struct {
	Name             string
	Source           string
	Content          string
	ObjectionType    string
	DaysSinceContact string
	FollowupNumber   int
}

func (o *Orchestrator) systemPrompt(cc *ConversationContext) (string, error) {
	var b strings.Builder
	err := systemTmpl.Execute(&b, systemData{
		ConversationContext: cc,
		AgentName:           o.cfg.Agent.AgentName,
		CompanyName:         o.cfg.Agent.CompanyName,
		ProductSummary:      o.cfg.Agent.ProductSummary,
		Extra:               o.cfg.Agent.SystemPromptExtra,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return b.String(), nil
}

func taskPrompt(entry EntryPoint, cc *ConversationContext, content, objectionType string) (string, error) {
	tmpl, ok := taskTmpls[entry]
	if !ok {
		return "", fmt.Errorf("no prompt for entry point %q", entry)
	}
	source := cc.Lead.Source
	if source == "" {
		source = "unknown source"
	}
	days := "?"
	if cc.DaysSinceContact >= 0 {
		days = fmt.Sprint(cc.DaysSinceContact)
	}
	var b strings.Builder
	err := tmpl.Execute(&b, taskData{
		Name:             cc.Lead.FullName(),
		Source:           source,
		Content:          content,
		ObjectionType:    objectionType,
		DaysSinceContact: days,
		FollowupNumber:   cc.Lead.FollowupCount + 1,
	})
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", entry, err)
	}
	return b.String(), nil
}

// Fallback returns the deterministic reply used when the oracle is
// unavailable, fails, or its draft is rejected.
func Fallback(entry EntryPoint, lead *domain.Lead, objectionType string) string {
	name := lead.GreetingName()
	switch entry {
	case EntryGreet:
		return fmt.Sprintf("Hello %s, thank you for your interest! How can I assist you today?", name)
	case EntryFollowup:
		return fmt.Sprintf("Hello %s, I wanted to follow up on our previous conversation. Is there anything I can help with?", name)
	case EntryClose:
		return fmt.Sprintf("Thank you for your interest, %s. Would you like to proceed with the next steps?", name)
	case EntryObjection:
		return fmt.Sprintf("I understand your concern about %s, %s. Let me address that...", objectionType, name)
	default:
		return fmt.Sprintf("Hello %s, thank you for your message. A member of our team will get back to you shortly.", name)
	}
}

// subjectFor is the email subject for an outbound reply; empty uses the
// dispatcher default.
func subjectFor(entry EntryPoint, company string) string {
	switch entry {
	case EntryGreet:
		return "Welcome to " + company
	case EntryClose:
		return "Next steps with " + company
	default:
		return ""
	}
}

func daysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return -1
	}
	return int(now.Sub(*t).Hours() / 24)
}
