package recommend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubOracle struct {
	reply string
	err   error
	reqs  []domain.ChatRequest
}

func (s *stubOracle) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Content: s.reply}, nil
}
func (s *stubOracle) Name() string                    { return "stub" }
func (s *stubOracle) Models() []string                { return nil }
func (s *stubOracle) Healthy(_ context.Context) error { return nil }

func TestParseRecommendations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []domain.Recommendation
	}{
		{
			name: "object",
			text: `{"recommendations":[{"product_id":2,"confidence":0.9,"reasons":["fits budget"]}]}`,
			want: []domain.Recommendation{{ProductID: 2, Confidence: 0.9, Reasons: []string{"fits budget"}}},
		},
		{
			name: "bare array with prose and string ids",
			text: "Here you go:\n```json\n[{\"product_id\":\"3\",\"confidence_score\":0.6}]\n```",
			want: []domain.Recommendation{{ProductID: 3, Confidence: 0.6}},
		},
		{
			name: "trailing commas repaired",
			text: `{"recommendations":[{"product_id":1,"confidence":0.8,"reasons":["a",],},]}`,
			want: []domain.Recommendation{{ProductID: 1, Confidence: 0.8, Reasons: []string{"a"}}},
		},
		{
			name: "single quotes repaired",
			text: `{'recommendations': [{'product_id': 4, 'confidence': 0.7}]}`,
			want: []domain.Recommendation{{ProductID: 4, Confidence: 0.7}},
		},
		{
			name: "bad ids skipped and confidence clamped",
			text: `{"recommendations":[{"product_id":"abc"},{"product_id":-1},{"product_id":5,"confidence":3}]}`,
			want: []domain.Recommendation{{ProductID: 5, Confidence: 1}},
		},
		{
			name: "default confidence",
			text: `{"recommendations":[{"product_id":6}]}`,
			want: []domain.Recommendation{{ProductID: 6, Confidence: 0.5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecommendations(tt.text)
			if err != nil {
				t.Fatalf("ParseRecommendations: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRecommendations_NoJSON(t *testing.T) {
	if _, err := ParseRecommendations("I would suggest the Pro plan."); err == nil {
		t.Error("expected error for prose-only reply")
	}
}

func TestFilter(t *testing.T) {
	products := []domain.Product{{ID: 1}, {ID: 2}, {ID: 3}}
	recs := []domain.Recommendation{
		{ProductID: 1, Confidence: 0.2},
		{ProductID: 9, Confidence: 0.99},
		{ProductID: 2, Confidence: 0.8},
		{ProductID: 1, Confidence: 0.95},
		{ProductID: 3, Confidence: 0.5},
	}
	got := filter(recs, products, 2)
	want := []domain.Recommendation{{ProductID: 2, Confidence: 0.8}, {ProductID: 3, Confidence: 0.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestKeywordMatch(t *testing.T) {
	products := []domain.Product{
		{ID: 1, Name: "Starter CRM", Description: "Contact management for small teams"},
		{ID: 2, Name: "Analytics Suite", Description: "Dashboards and reporting", Features: "forecasting"},
		{ID: 3, Name: "Phone System", Description: "Cloud telephony"},
	}
	lead := &domain.Lead{Needs: "CRM with reporting dashboards"}
	history := []domain.ConversationMessage{
		{Content: "We also want forecasting", FromLead: true},
		{Content: "Our telephony is great", FromLead: false},
	}

	got := KeywordMatch(lead, products, history, 5)
	if len(got) != 2 {
		t.Fatalf("got %d recommendations: %+v", len(got), got)
	}
	if got[0].ProductID != 2 || got[1].ProductID != 1 {
		t.Errorf("order = %d, %d", got[0].ProductID, got[1].ProductID)
	}
	if got[0].Confidence <= got[1].Confidence {
		t.Errorf("confidence not ranked: %v vs %v", got[0].Confidence, got[1].Confidence)
	}

	if recs := KeywordMatch(&domain.Lead{}, products, nil, 3); recs != nil {
		t.Errorf("no interest terms should give nil, got %+v", recs)
	}
}

type fixture struct {
	store    *store.SQLiteStore
	lead     *domain.Lead
	products []int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "rec.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st}
	for _, p := range []domain.Product{
		{Name: "Starter CRM", Description: "Contact management", Price: 29, Active: true},
		{Name: "Analytics Suite", Description: "Dashboards and reporting", Price: 99, Active: true},
		{Name: "Legacy Fax", Description: "reporting by fax", Price: 5, Active: false},
	} {
		id, err := st.CreateProduct(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		f.products = append(f.products, id)
	}
	lead := &domain.Lead{FirstName: "Ari", Email: "ari@example.com", Needs: "reporting dashboards"}
	id, err := st.CreateLead(ctx, lead)
	if err != nil {
		t.Fatal(err)
	}
	f.lead, _ = st.GetLead(ctx, id)
	return f
}

func TestEngine_GenerateFromOracle(t *testing.T) {
	f := newFixture(t)
	oracle := &stubOracle{reply: `{"recommendations":[{"product_id":1,"confidence":0.9,"reasons":["needs contacts"]},{"product_id":3,"confidence":0.95},{"product_id":2,"confidence":0.6}]}`}
	e := New(Config{Store: f.store, Oracle: oracle, Logger: testLogger()})

	recs, err := e.Generate(context.Background(), f.lead, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("inactive product should be filtered: %+v", recs)
	}
	if recs[0].ProductID != f.products[0] || recs[0].ProductName != "Starter CRM" || recs[0].ID == 0 {
		t.Errorf("first = %+v", recs[0])
	}
	if len(oracle.reqs) != 1 || oracle.reqs[0].Temperature != 0.1 {
		t.Errorf("oracle requests = %+v", oracle.reqs)
	}

	stored, err := e.Existing(context.Background(), f.lead.ID)
	if err != nil || len(stored) != 2 {
		t.Fatalf("Existing = %+v, %v", stored, err)
	}
}

func TestEngine_GenerateFallsBackToKeywords(t *testing.T) {
	f := newFixture(t)
	e := New(Config{Store: f.store, Oracle: &stubOracle{err: errors.New("timeout")}, Logger: testLogger()})

	recs, err := e.Generate(context.Background(), f.lead, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 1 || recs[0].ProductID != f.products[1] {
		t.Errorf("recs = %+v", recs)
	}
}

func TestEngine_Create(t *testing.T) {
	f := newFixture(t)
	e := New(Config{Store: f.store, Logger: testLogger()})
	ctx := context.Background()

	r, err := e.Create(ctx, f.lead.ID, f.products[0])
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Confidence != ManualConfidence || r.Reasons[0] != ManualReason || r.ProductName != "Starter CRM" {
		t.Errorf("recommendation = %+v", r)
	}
	again, err := e.Create(ctx, f.lead.ID, f.products[0])
	if err != nil || again.ID != r.ID {
		t.Errorf("duplicate create = %+v, %v", again, err)
	}
	if _, err := e.Create(ctx, f.lead.ID, 999); err == nil {
		t.Error("unknown product should fail")
	}
}
