package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"contentpipe/internal/model"
)

// CustomClient speaks the same request/response shape as HostedClient but
// never attaches auth headers, for self-hosted or internal endpoints
// bound with provider=custom (spec.md §4.2).
type CustomClient struct {
	baseURL    string
	modelName  string
	httpClient *http.Client
}

// NewCustomClient builds a CustomClient from an endpoint binding.
func NewCustomClient(b model.EndpointBinding) *CustomClient {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CustomClient{
		baseURL:    b.BaseURL,
		modelName:  b.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete implements Client.
func (c *CustomClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	body, err := json.Marshal(hostedRequest{
		Model:       c.modelName,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("marshal custom request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("build custom request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("read custom response: %w", err)
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
