// Package circuitmw provides a three-state (closed/open/half-open)
// circuit breaker middleware for llm.Client, grounded on the teacher's
// resilience circuit breaker. It protects a saturated or down endpoint
// from further dispatch, surfacing model.FallbackEndpointUnreachable-style
// failures fast instead of piling up timeouts.
package circuitmw

import (
	"context"
	"errors"
	"sync"
	"time"

	"contentpipe/internal/llm"
)

// State is the breaker's current disposition.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// ErrOpen is returned immediately when the breaker is open.
var ErrOpen = errors.New("circuitmw: circuit open")

// Policy configures the breaker.
type Policy struct {
	FailureThreshold int           // consecutive failures before opening
	OpenDuration     time.Duration // time spent open before probing again
}

// DefaultPolicy mirrors the teacher's default breaker settings.
func DefaultPolicy() Policy {
	return Policy{FailureThreshold: 5, OpenDuration: 30 * time.Second}
}

// Breaker is a stateful circuit breaker; one instance guards one client
// (typically one per stage's endpoint binding).
type Breaker struct {
	policy Policy

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
}

// New constructs a Breaker with the given policy.
func New(p Policy) *Breaker {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 5
	}
	if p.OpenDuration <= 0 {
		p.OpenDuration = 30 * time.Second
	}
	return &Breaker{policy: p, state: Closed}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Middleware wraps next with this breaker's admission control.
func (b *Breaker) Middleware() llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			if !b.allow() {
				return llm.CompletionResponse{}, ErrOpen
			}

			resp, err := next.Complete(ctx, req)
			if err != nil {
				b.recordFailure()
				return llm.CompletionResponse{}, err
			}
			b.recordSuccess()
			return resp, nil
		})
	}
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.policy.OpenDuration {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
		b.failures = 0
	case Closed:
		b.failures++
		if b.failures >= b.policy.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
			b.failures = 0
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}
