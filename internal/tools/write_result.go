package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"contentpipe/internal/model"
)

// writeResultArgs is the JSON shape the model must supply to write_result.
type writeResultArgs struct {
	Directive string          `json:"directive"` // "advance" | "reject" | "complete" | "retry"
	Next      string          `json:"next,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Priority  *int            `json:"priority,omitempty"` // optional, advance only
	Payload   json.RawMessage `json:"payload"`
}

// ErrAlreadyDecided's message is the tool error result Exec reports when
// write_result is invoked more than once within the same handler attempt
// (Exec's Go error stays nil), enforcing at-most-once at the
// tool-surface layer as spec.md §4.4 requires (the store layer enforces
// it again independently).
var ErrAlreadyDecided = fmt.Errorf("tools: write_result already called for this attempt")

// WriteResultTool is the terminal tool a stage handler's model must call
// exactly once per attempt to record its structured output and requested
// transition. It is constructed fresh per handler invocation (a capability
// record, not a shared singleton) so at-most-once enforcement cannot leak
// across items or attempts.
type WriteResultTool struct {
	mu       sync.Mutex
	called   bool
	decision *Decision
}

// Decision is the captured outcome of a successful write_result call.
type Decision struct {
	Directive model.Directive
	Payload   json.RawMessage
}

// NewWriteResultTool returns a fresh, unused WriteResultTool.
func NewWriteResultTool() *WriteResultTool {
	return &WriteResultTool{}
}

// Name implements Tool.
func (w *WriteResultTool) Name() string { return "write_result" }

// Definition implements Tool.
func (w *WriteResultTool) Definition() Definition {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"directive": {"type": "string", "enum": ["advance", "reject", "complete", "retry"]},
			"next": {"type": "string"},
			"reason": {"type": "string"},
			"priority": {"type": "integer", "minimum": 1, "maximum": 10, "description": "revise the item's priority on advance"},
			"payload": {"type": "object"}
		},
		"required": ["directive", "payload"]
	}`)
	return Definition{
		Name:        w.Name(),
		Description: "Record this stage's structured result and the transition to apply. Must be called exactly once.",
		InputSchema: schema,
	}
}

// Exec implements Tool. It parses args, validates the directive kind, and
// captures the Decision for the caller to read back via Result.
func (w *WriteResultTool) Exec(ctx context.Context, args json.RawMessage) (ExecResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.called {
		return ExecResult{Content: ErrAlreadyDecided.Error(), IsError: true}, nil
	}

	var parsed writeResultArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ExecResult{Content: fmt.Sprintf("invalid write_result arguments: %v", err), IsError: true}, nil
	}

	var dir model.Directive
	switch model.DirectiveKind(parsed.Directive) {
	case model.DirectiveAdvance:
		if parsed.Next == "" {
			return ExecResult{Content: "advance directive requires next", IsError: true}, nil
		}
		if parsed.Priority != nil && (*parsed.Priority < model.MinPriority || *parsed.Priority > model.MaxPriority) {
			return ExecResult{Content: fmt.Sprintf("priority must be between %d and %d", model.MinPriority, model.MaxPriority), IsError: true}, nil
		}
		if parsed.Priority != nil {
			dir = model.AdvanceWithPriority(model.Stage(parsed.Next), *parsed.Priority)
		} else {
			dir = model.Advance(model.Stage(parsed.Next))
		}
	case model.DirectiveReject:
		dir = model.Reject()
	case model.DirectiveComplete:
		dir = model.Complete()
	case model.DirectiveRetry:
		dir = model.Retry(parsed.Reason)
	default:
		return ExecResult{Content: fmt.Sprintf("unknown directive %q", parsed.Directive), IsError: true}, nil
	}

	w.called = true
	w.decision = &Decision{Directive: dir, Payload: parsed.Payload}
	return ExecResult{Content: "recorded"}, nil
}

// Result returns the captured decision, or nil if write_result was never
// successfully called during this attempt.
func (w *WriteResultTool) Result() *Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.decision
}
