// Package toolloop drives the request/tool-call/tool-result cycle between
// an llm.Client and a tools.Registry until the model calls write_result or
// the iteration cap is reached, per spec.md §4.4 and §6 (default 8
// tool-call iterations per attempt).
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"

	"contentpipe/internal/llm"
	"contentpipe/internal/logx"
	"contentpipe/internal/tools"
)

// DefaultMaxIterations bounds how many tool-call round trips one attempt
// may take before it is treated as a failure to converge.
const DefaultMaxIterations = 8

// ErrNoDecision is returned when the loop exhausts its iteration budget
// without the model calling write_result.
var ErrNoDecision = fmt.Errorf("toolloop: model did not call write_result within the iteration budget")

// Run drives client through req's conversation, executing any tool calls
// against registry, until write_result is called or maxIterations is
// exhausted. Returns the captured Decision, the full message transcript for
// audit logging, and the summed CostUSD across every completion call the
// attempt made, so callers can charge the whole tool-calling round to the
// stage's daily budget, not just its final call.
func Run(ctx context.Context, client llm.Client, registry *tools.Registry, writeResult *tools.WriteResultTool, req llm.CompletionRequest, maxIterations int) (*tools.Decision, []llm.Message, float64, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	logger := logx.NewLogger("toolloop")

	messages := append([]llm.Message(nil), req.Messages...)
	defs := registry.Definitions()
	req.Tools = make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		req.Tools[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	var totalCost float64

	for i := 0; i < maxIterations; i++ {
		req.Messages = messages

		resp, err := client.Complete(ctx, req)
		if err != nil {
			return nil, messages, totalCost, fmt.Errorf("toolloop: completion failed on iteration %d: %w", i, err)
		}
		totalCost += resp.CostUSD

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
			if decision := writeResult.Result(); decision != nil {
				return decision, messages, totalCost, nil
			}
			logger.Warn("model returned no tool calls and no decision on iteration %d", i)
			continue
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			result, execErr := registry.Exec(ctx, call.Name, call.Arguments)
			if execErr != nil {
				result = tools.ExecResult{Content: execErr.Error(), IsError: true}
			}
			messages = append(messages, llm.Message{Role: "tool", ToolCallID: call.ID, Content: encodeResult(result)})
		}

		if decision := writeResult.Result(); decision != nil {
			return decision, messages, totalCost, nil
		}
	}

	return nil, messages, totalCost, ErrNoDecision
}

func encodeResult(r tools.ExecResult) string {
	if !r.IsError {
		return r.Content
	}
	b, err := json.Marshal(map[string]string{"error": r.Content})
	if err != nil {
		return r.Content
	}
	return string(b)
}
