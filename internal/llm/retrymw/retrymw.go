// Package retrymw provides an exponential-backoff-with-jitter retry
// middleware for llm.Client, grounded on the teacher's resilience retry
// policy. It retries only errors llm.IsRetryable classifies as transient.
package retrymw

import (
	"context"
	"math"
	"math/rand"
	"time"

	"contentpipe/internal/llm"
)

// Policy configures the retry middleware.
type Policy struct {
	MaxAttempts int           // total attempts including the first, e.g. 3
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on backoff growth
}

// DefaultPolicy mirrors the teacher's default resilience settings: three
// attempts, 500ms base delay, capped at 8 seconds.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// New returns an llm.Middleware applying p to the wrapped client.
func New(p Policy) llm.Middleware {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return func(next llm.Client) llm.Client {
		return llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			var lastErr error
			for attempt := 0; attempt < p.MaxAttempts; attempt++ {
				if attempt > 0 {
					delay := backoff(p, attempt)
					timer := time.NewTimer(delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return llm.CompletionResponse{}, ctx.Err()
					case <-timer.C:
					}
				}

				resp, err := next.Complete(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !llm.IsRetryable(err) {
					return llm.CompletionResponse{}, err
				}
			}
			return llm.CompletionResponse{}, lastErr
		})
	}
}

func backoff(p Policy, attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1)) //nolint:gosec // jitter, not security sensitive
	return d + jitter
}
