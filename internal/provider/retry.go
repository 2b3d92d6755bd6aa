package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy bounds retries of one oracle call. A turn that exhausts it
// answers with fallback text.
type retryPolicy struct {
	attempts int           // total tries including the first
	base     time.Duration // wait before the second try; doubles after that
	max      time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, base: time.Second, max: 8 * time.Second}

// statusError is a transient HTTP status that exhausted the policy.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// wait returns the pause before retry n (1-based). A server Retry-After hint
// wins but is still capped.
func (p retryPolicy) wait(n int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, p.max)
	}
	d := p.base << (n - 1)
	if d <= 0 || d > p.max {
		d = p.max
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// do sends the request built by build, retrying network errors and
// transient statuses. Other responses are returned to the caller unread.
func (p retryPolicy) do(ctx context.Context, client *http.Client, build func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	var hint time.Duration
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			pause := p.wait(attempt-1, hint)
			logger.Warn("retrying oracle request", "attempt", attempt, "wait", pause, "err", lastErr)
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, hint = err, 0
			continue
		}
		if !transientStatus(resp.StatusCode) {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		hint = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		lastErr = &statusError{code: resp.StatusCode, body: string(body)}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", p.attempts, lastErr)
}
