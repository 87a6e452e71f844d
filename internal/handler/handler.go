// Package handler defines the per-stage processing contract and its
// registry, per spec.md §4.3 (Stage Handler Interface). A handler is a
// small interface, not a class hierarchy: the default implementation
// drives the tool-calling loop against a bound endpoint, but tests and
// operators can register any Handler for a stage.
package handler

import (
	"context"
	"fmt"

	"contentpipe/internal/model"
)

// Input is everything a handler needs to process one item at one stage.
type Input struct {
	Item            *model.Item
	PriorArtifacts  map[model.Stage]string // keyed by preceding stage
}

// Output is a handler's result: the directive to apply and the artifact
// payload to persist.
type Output struct {
	Directive model.Directive
	Payload   string // raw JSON to store as the StageArtifact payload
	CostUSD   float64
}

// Handler processes one item at one stage and returns the transition to
// apply. Implementations must be safe for concurrent use across different
// items; the worker pool never invokes the same Handler concurrently for
// the same item.
type Handler interface {
	Handle(ctx context.Context, in Input) (Output, error)
}

// Func adapts a plain function to a Handler, for tests and simple stages.
type Func func(ctx context.Context, in Input) (Output, error)

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, in Input) (Output, error) { return f(ctx, in) }

// Registry maps each stage to its handler, per spec.md §4.3: "each stage
// has exactly one handler, resolved by a stage-indexed map, not a type
// switch or class hierarchy."
type Registry struct {
	handlers map[model.Stage]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.Stage]Handler)}
}

// Register binds a Handler to stage, overwriting any existing binding.
func (r *Registry) Register(stage model.Stage, h Handler) {
	r.handlers[stage] = h
}

// Get returns the handler bound to stage, or an error if none is bound.
func (r *Registry) Get(stage model.Stage) (Handler, error) {
	h, ok := r.handlers[stage]
	if !ok {
		return nil, fmt.Errorf("handler: no handler registered for stage %q", stage)
	}
	return h, nil
}
