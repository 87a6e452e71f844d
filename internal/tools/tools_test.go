package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/limiter"
	"contentpipe/internal/model"
)

func TestWriteResultToolEnforcesAtMostOnce(t *testing.T) {
	w := NewWriteResultTool()
	ctx := context.Background()

	args, err := json.Marshal(map[string]any{
		"directive": "advance",
		"next":      "research",
		"payload":   map[string]any{"verdict": "relevant"},
	})
	require.NoError(t, err)

	res, err := w.Exec(ctx, args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	decision := w.Result()
	require.NotNil(t, decision)
	require.Equal(t, model.DirectiveAdvance, decision.Directive.Kind)
	require.Equal(t, model.StageResearch, decision.Directive.Next)

	res2, err := w.Exec(ctx, args)
	require.NoError(t, err)
	require.True(t, res2.IsError, "a second write_result call in the same attempt must be rejected")
}

func TestWriteResultToolCapturesPriority(t *testing.T) {
	w := NewWriteResultTool()
	args, err := json.Marshal(map[string]any{
		"directive": "advance",
		"next":      "research",
		"priority":  9,
		"payload":   map[string]any{"verdict": "urgent"},
	})
	require.NoError(t, err)

	res, err := w.Exec(context.Background(), args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	decision := w.Result()
	require.NotNil(t, decision.Directive.Priority)
	require.Equal(t, 9, *decision.Directive.Priority)
}

func TestWriteResultToolRejectsOutOfRangePriority(t *testing.T) {
	w := NewWriteResultTool()
	args, err := json.Marshal(map[string]any{
		"directive": "advance",
		"next":      "research",
		"priority":  11,
		"payload":   map[string]any{},
	})
	require.NoError(t, err)

	res, err := w.Exec(context.Background(), args)
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Nil(t, w.Result())
}

func TestWriteResultToolRejectsUnknownDirective(t *testing.T) {
	w := NewWriteResultTool()
	args, err := json.Marshal(map[string]any{"directive": "explode", "payload": map[string]any{}})
	require.NoError(t, err)

	res, err := w.Exec(context.Background(), args)
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Nil(t, w.Result())
}

type fakeSearchProvider struct {
	results []SearchResult
	err     error
}

func (f *fakeSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	return f.results, f.err
}

func TestWebSearchToolRespectsRateLimit(t *testing.T) {
	l := limiter.New()
	l.Configure(model.StageResearch, 1, 0)

	provider := &fakeSearchProvider{results: []SearchResult{{Title: "t", URL: "u", Snippet: "s"}}}
	tool := NewWebSearchTool(provider, l, model.StageResearch, 5)

	args, err := json.Marshal(map[string]any{"query": "test"})
	require.NoError(t, err)

	release, ok := l.TryAcquire(model.StageResearch)
	require.True(t, ok)

	res, err := tool.Exec(context.Background(), args)
	require.NoError(t, err)
	require.True(t, res.IsError, "search must be refused while the tool's rate limit slot is held")

	release()
	res2, err := tool.Exec(context.Background(), args)
	require.NoError(t, err)
	require.False(t, res2.IsError)
}

func TestRegistryDispatchesByName(t *testing.T) {
	w := NewWriteResultTool()
	r := NewRegistry(w)

	_, ok := r.Get("write_result")
	require.True(t, ok)
	_, ok = r.Get("nonexistent")
	require.False(t, ok)

	defs := r.Definitions()
	require.Len(t, defs, 1)
}
