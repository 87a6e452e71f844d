package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBraveSearchProviderParsesWebResults(t *testing.T) {
	var gotToken, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]string{
					{"title": "Claim debunked", "url": "https://example.com/a", "description": "fact check"},
				},
			},
		})
	}))
	defer srv.Close()

	p := NewBraveSearchProvider("test-key")
	p.httpClient = srv.Client()
	p.baseURL = srv.URL

	results, err := p.Search(context.Background(), "is the sky green", 5)
	require.NoError(t, err)
	require.Equal(t, "test-key", gotToken)
	require.Equal(t, "is the sky green", gotQuery)
	require.Len(t, results, 1)
	require.Equal(t, "Claim debunked", results[0].Title)
}

func TestBraveSearchProviderRequiresAPIKey(t *testing.T) {
	p := NewBraveSearchProvider("")
	_, err := p.Search(context.Background(), "q", 5)
	require.Error(t, err)
}
