package provider

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/domain"
)

func TestRateLimited_PassThroughWhenDisabled(t *testing.T) {
	p := &mockProvider{name: "p"}
	if got := NewRateLimited(p, 0); got != domain.Provider(p) {
		t.Fatal("perMinute=0 should return the provider unchanged")
	}
}

func TestRateLimited_WaitHonoursContext(t *testing.T) {
	p := &mockProvider{name: "p", chatResp: &domain.ChatResponse{Content: "ok"}}
	rl := NewRateLimited(p, 1) // burst 1, then one per minute

	if _, err := rl.Chat(context.Background(), domain.ChatRequest{}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rl.Chat(ctx, domain.ChatRequest{}); err == nil {
		t.Fatal("second call should fail on cancelled context")
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 underlying call, got %d", p.calls)
	}
}

func testFactory(t *testing.T) (*Factory, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Providers["primary"] = config.ProviderConfig{Enabled: true, Kind: "stub"}
	cfg.Providers["backup"] = config.ProviderConfig{Enabled: true, Kind: "stub"}
	cfg.Providers["off"] = config.ProviderConfig{Enabled: false, Kind: "stub"}
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("stub", func(name string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return &mockProvider{name: name, healthy: true, chatResp: &domain.ChatResponse{Content: name}}, nil
	})
	return f, cfg
}

func TestFactory_GetCachesAndValidates(t *testing.T) {
	f, _ := testFactory(t)

	a, err := f.Get("primary")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := f.Get("primary")
	if a != b {
		t.Error("expected cached instance")
	}
	if _, err := f.Get("off"); err == nil {
		t.Error("expected error for disabled provider")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactory_DefaultKinds(t *testing.T) {
	f, _ := testFactory(t)
	p, err := f.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "ollama" {
		t.Errorf("default provider = %s, want ollama", p.Name())
	}
}

func TestFactory_Oracle(t *testing.T) {
	f, cfg := testFactory(t)

	cfg.General.FailoverChain = []string{"primary", "off", "backup"}
	oracle, err := f.Oracle()
	if err != nil {
		t.Fatal(err)
	}
	if oracle.Name() != "failover(primary→backup)" {
		t.Errorf("oracle = %s", oracle.Name())
	}

	cfg.General.FailoverChain = []string{"off"}
	if _, err := f.Oracle(); err == nil {
		t.Error("expected error when no chain member is usable")
	}
}

func TestFactory_ConstructorError(t *testing.T) {
	f, cfg := testFactory(t)
	cfg.Providers["broken"] = config.ProviderConfig{Enabled: true, Kind: "bad"}
	f.RegisterConstructor("bad", func(string, config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return nil, errors.New("no credentials")
	})
	if _, err := f.Get("broken"); err == nil {
		t.Fatal("expected constructor error to surface")
	}
}
