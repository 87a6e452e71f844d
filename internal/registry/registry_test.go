package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/model"
)

var errNotFound = errors.New("registry test: not found")

type fakeStore struct {
	bindings map[model.Stage]model.EndpointBinding
}

func (f *fakeStore) ListEndpoints(ctx context.Context) ([]model.EndpointBinding, error) {
	out := make([]model.EndpointBinding, 0, len(f.bindings))
	for _, b := range f.bindings {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) GetEndpoint(ctx context.Context, stage model.Stage) (model.EndpointBinding, error) {
	b, ok := f.bindings[stage]
	if !ok {
		return model.EndpointBinding{}, errNotFound
	}
	return b, nil
}

func (f *fakeStore) UpsertEndpoint(ctx context.Context, b model.EndpointBinding) error {
	f.bindings[b.Stage] = b
	return nil
}

func TestSnapshotReflectsReload(t *testing.T) {
	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{
		model.StageTriage: {Stage: model.StageTriage, BaseURL: "https://v1.example.com", Timeout: 30 * time.Second},
	}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	b, ok := reg.Snapshot(model.StageTriage)
	require.True(t, ok)
	require.Equal(t, "https://v1.example.com", b.BaseURL)

	_, ok = reg.Snapshot(model.StageResearch)
	require.False(t, ok, "unbound stages report no binding")

	require.NoError(t, reg.Update(context.Background(), model.EndpointBinding{Stage: model.StageTriage, Provider: model.ProviderCustom, BaseURL: "https://v2.example.com", Timeout: 30 * time.Second}))

	b, ok = reg.Snapshot(model.StageTriage)
	require.True(t, ok)
	require.Equal(t, "https://v2.example.com", b.BaseURL, "update must rebind without requiring a restart")
}

func TestUpdateRejectsUnknownProvider(t *testing.T) {
	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	err = reg.Update(context.Background(), model.EndpointBinding{Stage: model.StageTriage, Provider: "carrier_pigeon", BaseURL: "https://example.com"})
	require.ErrorIs(t, err, ErrUnknownProvider)
	_, ok := fs.bindings[model.StageTriage]
	require.False(t, ok, "an unknown provider must never reach the store")
}

func TestProbeCustomProviderListsModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "model-a"}, {"id": "model-b"}},
		})
	}))
	defer srv.Close()

	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{
		model.StageTriage: {Stage: model.StageTriage, Provider: model.ProviderCustom, BaseURL: srv.URL},
	}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	result := reg.Probe(context.Background(), model.StageTriage)
	require.True(t, result.Available)
	require.Equal(t, []string{"model-a", "model-b"}, result.Models)
	require.Empty(t, result.Reason)
}

func TestProbeHostedProviderSendsMinimalChatRequest(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{
		model.StageTriage: {Stage: model.StageTriage, Provider: model.ProviderHosted, BaseURL: srv.URL, Model: "m"},
	}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	result := reg.Probe(context.Background(), model.StageTriage)
	require.True(t, result.Available)
	require.Equal(t, "/v1/chat/completions", gotPath)
}

func TestProbeReportsStructuredFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{
		model.StageTriage: {Stage: model.StageTriage, Provider: model.ProviderHosted, BaseURL: srv.URL, Model: "m"},
	}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	result := reg.Probe(context.Background(), model.StageTriage)
	require.False(t, result.Available)
	require.NotEmpty(t, result.Reason)
}

func TestProbeUnboundStageReportsUnavailable(t *testing.T) {
	fs := &fakeStore{bindings: map[model.Stage]model.EndpointBinding{}}
	reg, err := New(context.Background(), fs)
	require.NoError(t, err)

	result := reg.Probe(context.Background(), model.StageResearch)
	require.False(t, result.Available)
	require.Equal(t, "no endpoint bound", result.Reason)
}
