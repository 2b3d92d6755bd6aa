package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches generation providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	client := func(pc config.ProviderConfig) *http.Client {
		return pooledClient(time.Duration(pc.TimeoutSeconds) * time.Second)
	}

	f.constructors["ollama"] = func(_ string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Client: client(pc), Logger: logger}), nil
	}
	f.constructors["openai"] = func(_ string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Client: client(pc), Logger: logger}), nil
	}
	f.constructors["langchain"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewLangChain(LangChainConfig{
			Name: name, Backend: pc.Backend, APIKey: pc.APIKey, BaseURL: pc.APIBase, Model: pc.DefaultModel, Logger: logger,
		})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	kind := pc.ResolvedKind(name)
	ctor, found := f.constructors[kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, kind)
	}
	p, err := ctor(name, pc, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	p = NewRateLimited(p, pc.RateLimitPerMin)

	f.cache[name] = p
	return p, nil
}

// Oracle returns the provider the orchestrator talks to: the failover chain
// when one is configured, otherwise the default provider.
func (f *Factory) Oracle() (domain.Provider, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.Get("")
	}
	var providers []domain.Provider
	for _, name := range chain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover: skipping provider", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable provider in failover chain")
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewFailoverProvider(providers, f.logger), nil
}

// HealthyProvider returns the first provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
