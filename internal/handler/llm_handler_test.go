package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/llm"
	"contentpipe/internal/model"
	"contentpipe/internal/tools"
)

func TestLLMHandlerTranslatesDecisionToOutput(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		args, _ := json.Marshal(map[string]any{
			"directive": "advance",
			"next":      "research",
			"payload":   map[string]any{"verdict": "relevant"},
		})
		return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "write_result", Arguments: args}}}, nil
	})

	h := &LLMHandler{
		Stage:  model.StageTriage,
		Client: client,
		Tools: func() (*tools.Registry, *tools.WriteResultTool) {
			w := tools.NewWriteResultTool()
			return tools.NewRegistry(w), w
		},
		SystemPrompt:  "classify the item",
		ModelName:     "test-model",
		MaxIterations: 4,
	}

	out, err := h.Handle(context.Background(), Input{Item: &model.Item{ID: 1, Title: "t", Body: "b"}})
	require.NoError(t, err)
	require.Equal(t, model.DirectiveAdvance, out.Directive.Kind)
	require.Equal(t, model.StageResearch, out.Directive.Next)
	require.JSONEq(t, `{"verdict":"relevant"}`, out.Payload)
}

func TestRegistryGetUnknownStageErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(model.StageResponse)
	require.Error(t, err)
}
