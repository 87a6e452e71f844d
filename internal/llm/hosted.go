package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"contentpipe/internal/model"
)

// HostedClient speaks the chat-completions-with-tools wire shape common to
// hosted model providers, resolving its bearer token from the environment
// variable named by the endpoint binding's AuthEnvKey (spec.md §6.2).
type HostedClient struct {
	baseURL    string
	modelName  string
	authEnvKey string
	httpClient *http.Client
}

// NewHostedClient builds a HostedClient from an endpoint binding.
func NewHostedClient(b model.EndpointBinding) *HostedClient {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HostedClient{
		baseURL:    b.BaseURL,
		modelName:  b.Model,
		authEnvKey: b.AuthEnvKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type hostedRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type hostedResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"usage"`
}

// Complete implements Client by POSTing to baseURL/v1/chat/completions.
func (c *HostedClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	body, err := json.Marshal(hostedRequest{
		Model:       c.modelName,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshal hosted request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("build hosted request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authEnvKey != "" {
		if token := os.Getenv(c.authEnvKey); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("read hosted response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return CompletionResponse{}, &ServerError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return CompletionResponse{}, &ProtocolError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var hr hostedResponse
	if err := json.Unmarshal(respBody, &hr); err != nil {
		return CompletionResponse{}, &ProtocolError{StatusCode: resp.StatusCode, Body: string(respBody), Cause: err}
	}

	return CompletionResponse{
		Content:      hr.Content,
		ToolCalls:    hr.ToolCalls,
		FinishReason: hr.FinishReason,
		InputTokens:  hr.Usage.InputTokens,
		OutputTokens: hr.Usage.OutputTokens,
		CostUSD:      hr.Usage.CostUSD,
	}, nil
}
