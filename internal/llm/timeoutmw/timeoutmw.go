// Package timeoutmw enforces a per-call deadline on llm.Client, mapping a
// context deadline expiry to llm.DeadlineError so the retry classifier and
// fallback logging treat it distinctly from a transport failure
// (spec.md §5's deadline enforcement, §7 error taxonomy).
package timeoutmw

import (
	"context"
	"errors"
	"time"

	"contentpipe/internal/llm"
)

// New returns an llm.Middleware that bounds each call to d.
func New(d time.Duration) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if d <= 0 {
				return next.Complete(ctx, req)
			}

			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next.Complete(ctx, req)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return llm.CompletionResponse{}, &llm.DeadlineError{Cause: err}
			}
			return resp, err
		})
	}
}
