package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"contentpipe/internal/limiter"
	"contentpipe/internal/model"
)

// SearchProvider performs the actual web search. Concrete implementations
// wrap a search API; tests supply a fake.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// SearchResult is one item in a search response.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// WebSearchTool exposes SearchProvider as a model-callable tool, rate
// limited per stage via a limiter so a single item cannot monopolize the
// search backend (spec.md §4.4, §5). The limiter passed in must be a
// dedicated instance for tool rate limiting, distinct from the one
// gating stage concurrency, since a worker holds its concurrency slot for
// the whole handler invocation and would otherwise starve its own tool
// calls.
type WebSearchTool struct {
	provider   SearchProvider
	limiter    *limiter.Limiter
	stage      model.Stage
	maxResults int
}

// NewWebSearchTool builds a WebSearchTool bound to one stage's rate limit.
func NewWebSearchTool(provider SearchProvider, l *limiter.Limiter, stage model.Stage, defaultMaxResults int) *WebSearchTool {
	if defaultMaxResults <= 0 {
		defaultMaxResults = 5
	}
	return &WebSearchTool{provider: provider, limiter: l, stage: stage, maxResults: defaultMaxResults}
}

// Name implements Tool.
func (w *WebSearchTool) Name() string { return "web_search" }

// Definition implements Tool.
func (w *WebSearchTool) Definition() Definition {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"max_results": {"type": "integer"}
		},
		"required": ["query"]
	}`)
	return Definition{
		Name:        w.Name(),
		Description: "Search the web for supporting context and return titled results with snippets.",
		InputSchema: schema,
	}
}

// Exec implements Tool.
func (w *WebSearchTool) Exec(ctx context.Context, args json.RawMessage) (ExecResult, error) {
	var parsed webSearchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ExecResult{Content: fmt.Sprintf("invalid web_search arguments: %v", err), IsError: true}, nil
	}
	if parsed.Query == "" {
		return ExecResult{Content: "web_search requires a non-empty query", IsError: true}, nil
	}
	maxResults := parsed.MaxResults
	if maxResults <= 0 {
		maxResults = w.maxResults
	}

	release, ok := w.limiter.TryAcquire(w.stage)
	if !ok {
		return ExecResult{Content: "web_search rate limit reached for this stage, try again later", IsError: true}, nil
	}
	defer release()

	results, err := w.provider.Search(ctx, parsed.Query, maxResults)
	if err != nil {
		return ExecResult{Content: fmt.Sprintf("web_search failed: %v", err), IsError: true}, nil
	}

	body, err := json.Marshal(results)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal search results: %w", err)
	}
	return ExecResult{Content: string(body)}, nil
}
