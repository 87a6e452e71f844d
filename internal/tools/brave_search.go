package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// BraveAPIKeyEnv names the environment variable BraveSearchProvider reads
// its subscription token from, mirroring the endpoint bindings' AuthEnvKey
// convention rather than taking a bare secret in config.
const BraveAPIKeyEnv = "BRAVE_API_KEY"

// braveSearchURL is the Brave Search web-search endpoint.
const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveSearchProvider implements SearchProvider against the Brave Search
// API, the same backend the research stage used originally.
type BraveSearchProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewBraveSearchProvider builds a BraveSearchProvider. apiKey, if empty, is
// read from BraveAPIKeyEnv at construction time.
func NewBraveSearchProvider(apiKey string) *BraveSearchProvider {
	if apiKey == "" {
		apiKey = os.Getenv(BraveAPIKeyEnv)
	}
	return &BraveSearchProvider{
		apiKey:     apiKey,
		baseURL:    braveSearchURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements SearchProvider.
func (p *BraveSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("brave search: %s is not set", BraveAPIKeyEnv)
	}
	if maxResults <= 0 || maxResults > 20 {
		maxResults = 10
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", maxResults))
	q.Set("search_lang", "en")
	q.Set("country", "US")
	q.Set("safesearch", "moderate")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned status %d", resp.StatusCode)
	}

	var parsed braveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode brave search response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
