package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/saare1/aisales/internal/domain"
)

// contentGenerator is the slice of llms.Model used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChain adapts a langchaingo model to domain.Provider.
type LangChain struct {
	name   string
	model  string
	llm    contentGenerator
	logger *slog.Logger
}

type LangChainConfig struct {
	Name    string
	Backend string // "openai" (default) | "ollama"
	APIKey  string
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

func NewLangChain(cfg LangChainConfig) (*LangChain, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("langchain: model is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "langchain"
	}

	var (
		llm contentGenerator
		err error
	)
	switch cfg.Backend {
	case "", "openai":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("langchain: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("langchain %s: %w", cfg.Backend, err)
	}

	return &LangChain{name: cfg.Name, model: cfg.Model, llm: llm, logger: cfg.Logger}, nil
}

func (l *LangChain) Name() string     { return l.name }
func (l *LangChain) Models() []string { return []string{l.model} }

func (l *LangChain) Healthy(ctx context.Context) error {
	if l.llm == nil {
		return fmt.Errorf("langchain: model not initialised")
	}
	return nil
}

func (l *LangChain) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()

	msgs := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	resp, err := l.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("langchain: empty response")
	}

	choice := resp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Content,
		FinishReason: choice.StopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	out.Usage.PromptTokens = intInfo(choice.GenerationInfo, "PromptTokens")
	out.Usage.CompletionTokens = intInfo(choice.GenerationInfo, "CompletionTokens")
	out.Usage.TotalTokens = intInfo(choice.GenerationInfo, "TotalTokens")
	return out, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
