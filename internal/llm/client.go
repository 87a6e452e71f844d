// Package llm defines the wire-agnostic client interface stage handlers
// use to talk to a bound remote endpoint, per spec.md §4.3 (Stage Handler
// Interface) and §6 (external interfaces). Concrete transports live in
// custom.go and hosted.go; resilience is layered on with the retrymw,
// circuitmw, and timeoutmw middleware packages.
package llm

import (
	"context"
	"encoding/json"
)

// ToolDefinition advertises one callable tool to the remote model, per
// spec.md §4.4's tool surface.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single invocation the model requested.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is one call to a bound endpoint.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the model's reply: either free text, one or more
// tool calls, or both.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Client is the minimal surface a stage handler needs from a bound
// endpoint. Both the hosted and custom providers implement it, and every
// resilience middleware wraps one Client to produce another.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// ClientFunc adapts a plain function to a Client, mirroring the teacher's
// use of http.HandlerFunc-style adapters for lightweight test doubles.
type ClientFunc func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f(ctx, req)
}

// Middleware wraps a Client to add cross-cutting behavior (retry, circuit
// breaking, timeouts) without the wrapped client knowing about it.
type Middleware func(Client) Client

// Chain composes middleware around a base Client, applied outermost-first:
// Chain(base, a, b) behaves as a(b(base)).
func Chain(base Client, mws ...Middleware) Client {
	c := base
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
