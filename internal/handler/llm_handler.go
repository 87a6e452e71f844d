package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"contentpipe/internal/llm"
	"contentpipe/internal/model"
	"contentpipe/internal/toolloop"
	"contentpipe/internal/tools"
)

// ToolsFactory builds a fresh tool registry and its write_result tool for
// one handler invocation. It must never reuse a WriteResultTool across
// calls, since at-most-once enforcement depends on each attempt getting
// an unused capability record.
type ToolsFactory func() (*tools.Registry, *tools.WriteResultTool)

// LLMHandler is the default Handler: it builds a completion request from
// the item and its prior-stage artifacts, drives the tool-calling loop
// against a bound endpoint client, and translates the resulting Decision
// into a handler Output. Grounded on the teacher's default agent
// dispatch: a system prompt plus a small, explicit tool surface.
type LLMHandler struct {
	Stage         model.Stage
	Client        llm.Client
	Tools         ToolsFactory
	SystemPrompt  string
	ModelName     string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
}

// Handle implements Handler.
func (h *LLMHandler) Handle(ctx context.Context, in Input) (Output, error) {
	registry, writeResult := h.Tools()

	userContent, err := renderUserContent(in)
	if err != nil {
		return Output{}, fmt.Errorf("render user content for stage %s: %w", h.Stage, err)
	}

	req := llm.CompletionRequest{
		Model:       h.ModelName,
		MaxTokens:   h.MaxTokens,
		Temperature: h.Temperature,
		Messages: []llm.Message{
			{Role: "system", Content: h.SystemPrompt},
			{Role: "user", Content: userContent},
		},
	}

	decision, _, costUSD, err := toolloop.Run(ctx, h.Client, registry, writeResult, req, h.MaxIterations)
	if err != nil {
		return Output{}, fmt.Errorf("tool loop for stage %s: %w", h.Stage, err)
	}

	return Output{Directive: decision.Directive, Payload: string(decision.Payload), CostUSD: costUSD}, nil
}

func renderUserContent(in Input) (string, error) {
	item := in.Item
	payload := struct {
		Item struct {
			ID        int64  `json:"id"`
			Title     string `json:"title"`
			Author    string `json:"author"`
			Body      string `json:"body"`
			SourceURL string `json:"source_url"`
		} `json:"item"`
		PriorArtifacts map[model.Stage]json.RawMessage `json:"prior_artifacts,omitempty"`
	}{}
	payload.Item.ID = item.ID
	payload.Item.Title = item.Title
	payload.Item.Author = item.Author
	payload.Item.Body = item.Body
	payload.Item.SourceURL = item.SourceURL

	if len(in.PriorArtifacts) > 0 {
		payload.PriorArtifacts = make(map[model.Stage]json.RawMessage, len(in.PriorArtifacts))
		for stage, raw := range in.PriorArtifacts {
			payload.PriorArtifacts[stage] = json.RawMessage(raw)
		}
	}

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal handler input: %w", err)
	}
	return string(b), nil
}
