package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

const defaultCooldown = 30 * time.Second

// FailoverProvider asks each provider in order until one answers. A provider
// that fails is benched for a cooldown so later turns go straight to the
// next one; when every provider is benched the whole chain is tried again.
type FailoverProvider struct {
	providers []domain.Provider
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	benched map[int]time.Time // index -> bench expiry
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		cooldown:  defaultCooldown,
		logger:    logger,
		now:       time.Now,
		benched:   make(map[int]time.Time),
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// order lists provider indexes to try: members off the bench first, in
// chain order, or the full chain when all are benched.
func (fp *FailoverProvider) order() []int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	var ready []int
	for i := range fp.providers {
		if until, ok := fp.benched[i]; ok && now.Before(until) {
			continue
		}
		delete(fp.benched, i)
		ready = append(ready, i)
	}
	if len(ready) == 0 {
		for i := range fp.providers {
			ready = append(ready, i)
		}
	}
	return ready
}

func (fp *FailoverProvider) bench(i int) {
	fp.mu.Lock()
	fp.benched[i] = fp.now().Add(fp.cooldown)
	fp.mu.Unlock()
}

func (fp *FailoverProvider) restore(i int) {
	fp.mu.Lock()
	delete(fp.benched, i)
	fp.mu.Unlock()
}

// Chat returns the first successful response. The error wraps the last
// provider failure.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, fmt.Errorf("failover chain is empty")
	}
	var lastErr error
	for n, i := range fp.order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := fp.providers[i]
		resp, err := p.Chat(ctx, req)
		if err == nil {
			fp.restore(i)
			if n > 0 || i > 0 {
				fp.logger.Info("failover: answered by fallback provider", "provider", p.Name(), "position", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.bench(i)
		fp.logger.Warn("failover: provider failed, benched", "provider", p.Name(), "cooldown", fp.cooldown, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
