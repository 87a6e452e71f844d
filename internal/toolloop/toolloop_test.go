package toolloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/llm"
	"contentpipe/internal/model"
	"contentpipe/internal/tools"
)

func TestRunReturnsDecisionAfterToolCall(t *testing.T) {
	writeResult := tools.NewWriteResultTool()
	registry := tools.NewRegistry(writeResult)

	call := 0
	client := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		call++
		if call == 1 {
			args, _ := json.Marshal(map[string]any{
				"directive": "advance",
				"next":      "research",
				"payload":   map[string]any{"verdict": "relevant"},
			})
			return llm.CompletionResponse{
				ToolCalls: []llm.ToolCall{{ID: "1", Name: "write_result", Arguments: args}},
			}, nil
		}
		return llm.CompletionResponse{Content: "done"}, nil
	})

	decision, messages, _, err := Run(context.Background(), client, registry, writeResult, llm.CompletionRequest{}, 4)
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, model.DirectiveAdvance, decision.Directive.Kind)
	require.NotEmpty(t, messages)
}

func TestRunReturnsErrNoDecisionWhenExhausted(t *testing.T) {
	writeResult := tools.NewWriteResultTool()
	registry := tools.NewRegistry(writeResult)

	client := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "thinking..."}, nil
	})

	_, _, _, err := Run(context.Background(), client, registry, writeResult, llm.CompletionRequest{}, 2)
	require.ErrorIs(t, err, ErrNoDecision)
}

func TestRunStopsChargingOnceDecided(t *testing.T) {
	writeResult := tools.NewWriteResultTool()
	registry := tools.NewRegistry(writeResult)

	call := 0
	client := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		call++
		if call == 1 {
			args, _ := json.Marshal(map[string]any{
				"directive": "reject",
				"reason":    "spam",
			})
			return llm.CompletionResponse{
				CostUSD:   0.01,
				ToolCalls: []llm.ToolCall{{ID: "1", Name: "write_result", Arguments: args}},
			}, nil
		}
		return llm.CompletionResponse{Content: "done", CostUSD: 0.02}, nil
	})

	_, _, cost, err := Run(context.Background(), client, registry, writeResult, llm.CompletionRequest{}, 4)
	require.NoError(t, err)
	require.InDelta(t, 0.01, cost, 0.0001, "cost is charged once write_result fires, before the trailing completion runs")
}
