package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/saare1/aisales/internal/domain"
)

type fakeGenerator struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func TestLangChain_Chat(t *testing.T) {
	gen := &fakeGenerator{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "Thanks for reaching out!",
		StopReason:     "stop",
		GenerationInfo: map[string]any{"PromptTokens": 20, "CompletionTokens": 5, "TotalTokens": 25},
	}}}}
	p := &LangChain{name: "lc", model: "gpt-4o-mini", llm: gen, logger: testLogger()}

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}, {Role: "assistant", Content: "yo"}},
		MaxTokens:   200,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Thanks for reaching out!" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 25 {
		t.Errorf("unexpected response: %+v", resp)
	}

	wantRoles := []llms.ChatMessageType{llms.ChatMessageTypeSystem, llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI}
	if len(gen.messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(gen.messages))
	}
	for i, want := range wantRoles {
		if gen.messages[i].Role != want {
			t.Errorf("message %d role = %s, want %s", i, gen.messages[i].Role, want)
		}
	}
	if gen.opts.MaxTokens != 200 || gen.opts.Temperature != 0.5 {
		t.Errorf("call options not forwarded: %+v", gen.opts)
	}
}

func TestLangChain_Errors(t *testing.T) {
	p := &LangChain{name: "lc", llm: &fakeGenerator{err: errors.New("boom")}, logger: testLogger()}
	if _, err := p.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected generate error")
	}

	p.llm = &fakeGenerator{resp: &llms.ContentResponse{}}
	if _, err := p.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestNewLangChain_Validation(t *testing.T) {
	if _, err := NewLangChain(LangChainConfig{}); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := NewLangChain(LangChainConfig{Model: "m", Backend: "cohere"}); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
	p, err := NewLangChain(LangChainConfig{Model: "llama3", Backend: "ollama", BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("ollama backend: %v", err)
	}
	if p.Name() != "langchain" || p.Models()[0] != "llama3" {
		t.Errorf("unexpected identity: %s %v", p.Name(), p.Models())
	}
}
