package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/model"
)

func TestHostedClientPostsToChatCompletionsPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(hostedResponse{Content: "hi", FinishReason: "stop"})
	}))
	defer srv.Close()

	require.NoError(t, os.Setenv("TEST_HOSTED_TOKEN", "secret"))
	defer os.Unsetenv("TEST_HOSTED_TOKEN")

	c := NewHostedClient(model.EndpointBinding{BaseURL: srv.URL, Model: "m", AuthEnvKey: "TEST_HOSTED_TOKEN"})
	resp, err := c.Complete(t.Context(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
}

func TestHostedClientMapsStatusCodesToErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHostedClient(model.EndpointBinding{BaseURL: srv.URL, Model: "m"})
	_, err := c.Complete(t.Context(), CompletionRequest{})
	require.Error(t, err)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
}
