package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy is an explicit retry policy: how many attempts, the base delay for
// exponential backoff, and a jitter fraction (0..1) applied to each delay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      float64
}

// DefaultPolicy mirrors the backoff used for provider rate limits.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Jitter: 0.2}

// Do runs fn up to p.MaxAttempts times, sleeping between attempts with
// exponential backoff. retryable decides which errors are worth another
// attempt; a nil retryable retries every error. Context cancellation wins
// over any pending sleep.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
		if p.Jitter > 0 {
			delay += time.Duration(float64(delay) * p.Jitter * rand.Float64())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
