// Package recommend matches catalogue products to a lead.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/saare1/aisales/internal/domain"

	"github.com/kaptinlin/jsonrepair"
)

const (
	defaultMax = 3

	// ManualConfidence and ManualReason describe recommendations recorded
	// directly by the sales agent rather than generated.
	ManualConfidence = 0.7
	ManualReason     = "Recommended by sales agent"

	historyWindow = 10
	systemPrompt  = "You are a sales assistant that matches customer needs with relevant products. Reply with JSON only."
)

// Store is the persistence the engine needs.
type Store interface {
	domain.CatalogStore
	domain.ConversationStore
}

type Config struct {
	Store Store
	// Oracle is optional; without it products are ranked by keyword overlap.
	Oracle    domain.Provider
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// Engine implements domain.Recommender.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

var _ domain.Recommender = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Generate picks up to max active products for lead and stores them.
// Re-generating an existing lead+product pair keeps the stored record.
func (e *Engine) Generate(ctx context.Context, lead *domain.Lead, max int) ([]domain.Recommendation, error) {
	if lead == nil {
		return nil, domain.ErrInvalidLead
	}
	if max <= 0 {
		max = defaultMax
	}
	products, err := e.cfg.Store.Products(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		e.logger.Info("no active products in catalogue")
		return nil, nil
	}
	history, err := e.cfg.Store.History(ctx, lead.ID, historyWindow)
	if err != nil {
		return nil, err
	}

	var recs []domain.Recommendation
	if e.cfg.Oracle != nil {
		recs, err = e.fromOracle(ctx, lead, products, history, max)
		if err != nil {
			e.logger.Warn("oracle recommendations failed, using keyword match", "lead", lead.ID, "err", err)
		}
	}
	if len(recs) == 0 {
		recs = KeywordMatch(lead, products, history, max)
	}

	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range recs {
		recs[i].LeadID = lead.ID
		recs[i].ProductName = names[recs[i].ProductID]
		id, err := e.cfg.Store.CreateRecommendation(ctx, recs[i])
		if err != nil {
			return nil, err
		}
		recs[i].ID = id
	}
	e.logger.Info("recommendations generated", "lead", lead.ID, "count", len(recs))
	return recs, nil
}

func (e *Engine) Existing(ctx context.Context, leadID int64) ([]domain.Recommendation, error) {
	return e.cfg.Store.Recommendations(ctx, leadID)
}

// Create records a manual recommendation of productID for leadID.
func (e *Engine) Create(ctx context.Context, leadID, productID int64) (*domain.Recommendation, error) {
	p, err := e.cfg.Store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("product %d not found", productID)
	}
	r := &domain.Recommendation{
		LeadID:      leadID,
		ProductID:   productID,
		ProductName: p.Name,
		Confidence:  ManualConfidence,
		Reasons:     []string{ManualReason},
	}
	id, err := e.cfg.Store.CreateRecommendation(ctx, *r)
	if err != nil {
		return nil, err
	}
	r.ID = id
	return r, nil
}

func (e *Engine) fromOracle(ctx context.Context, lead *domain.Lead, products []domain.Product, history []domain.ConversationMessage, max int) ([]domain.Recommendation, error) {
	resp, err := e.cfg.Oracle.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: systemPrompt},
			{Role: domain.RoleUser, Content: buildPrompt(lead, products, history, max)},
		},
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}
	recs, err := ParseRecommendations(resp.Content)
	if err != nil {
		return nil, err
	}
	return filter(recs, products, max), nil
}

func buildPrompt(lead *domain.Lead, products []domain.Product, history []domain.ConversationMessage, max int) string {
	var b strings.Builder
	b.WriteString("LEAD\n")
	fmt.Fprintf(&b, "Name: %s\nCompany: %s\nRole: %s\nStatus: %s\n", lead.FullName(), orNone(lead.Company), orNone(lead.JobTitle), lead.Status)
	fmt.Fprintf(&b, "Needs: %s\nBudget: %s\n\n", orNone(lead.Needs), orNone(lead.Budget))

	b.WriteString("RECENT CONVERSATION\n")
	for i := len(history) - 1; i >= 0; i-- {
		who := "Agent"
		if history[i].FromLead {
			who = "Lead"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, history[i].Content)
	}

	b.WriteString("\nPRODUCTS\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- id=%d name=%q category=%q price=%.2f description=%q features=%q\n",
			p.ID, p.Name, p.Category, p.Price, p.Description, p.Features)
	}

	fmt.Fprintf(&b, "\nRecommend up to %d products that best fit this lead. Respond with JSON of the form "+
		`{"recommendations":[{"product_id":1,"confidence":0.8,"reasons":["..."]}]}`+
		" using only product ids listed above.\n", max)
	return b.String()
}

type rawRecommendation struct {
	ProductID       any      `json:"product_id"`
	Confidence      *float64 `json:"confidence"`
	ConfidenceScore *float64 `json:"confidence_score"`
	Reasons         []string `json:"reasons"`
}

// ParseRecommendations decodes model output into recommendations. The text
// may wrap the JSON in prose or code fences, and the JSON itself may be
// malformed; it is repaired before decoding. Either an object with a
// "recommendations" array or a bare array is accepted.
func ParseRecommendations(text string) ([]domain.Recommendation, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in recommendation response")
	}
	if !json.Valid([]byte(raw)) {
		repaired, err := jsonrepair.JSONRepair(raw)
		if err != nil {
			return nil, fmt.Errorf("repair recommendation JSON: %w", err)
		}
		raw = repaired
	}

	var items []rawRecommendation
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
	} else {
		var wrapper struct {
			Recommendations []rawRecommendation `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		items = wrapper.Recommendations
	}

	out := make([]domain.Recommendation, 0, len(items))
	for _, it := range items {
		id, ok := productID(it.ProductID)
		if !ok {
			continue
		}
		conf := 0.5
		switch {
		case it.Confidence != nil:
			conf = *it.Confidence
		case it.ConfidenceScore != nil:
			conf = *it.ConfidenceScore
		}
		out = append(out, domain.Recommendation{ProductID: id, Confidence: clamp(conf), Reasons: it.Reasons})
	}
	return out, nil
}

func extractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		// Truncated output; let the repairer close it.
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : end+1])
}

func productID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		if id <= 0 || id != float64(int64(id)) {
			return 0, false
		}
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

// filter keeps known products, drops duplicates and returns at most max
// recommendations, most confident first.
func filter(recs []domain.Recommendation, products []domain.Product, max int) []domain.Recommendation {
	known := make(map[int64]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}
	seen := make(map[int64]bool)
	out := recs[:0]
	for _, r := range recs {
		if !known[r.ProductID] || seen[r.ProductID] {
			continue
		}
		seen[r.ProductID] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}
