package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/saare1/aisales/internal/domain"
)

// RateLimited throttles Chat calls on the wrapped provider. Callers block
// until a token is available or ctx is done.
type RateLimited struct {
	domain.Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one
// minute's worth capped at 10. perMinute <= 0 returns p unchanged.
func NewRateLimited(p domain.Provider, perMinute int) domain.Provider {
	if perMinute <= 0 {
		return p
	}
	burst := min(perMinute, 10)
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

func (r *RateLimited) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", r.Provider.Name(), err)
	}
	return r.Provider.Chat(ctx, req)
}
