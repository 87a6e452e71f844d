package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/eventlog"
	"contentpipe/internal/limiter"
	"contentpipe/internal/model"
	"contentpipe/internal/recovery"
	"contentpipe/internal/registry"
	"contentpipe/internal/store"
)

type fakeStore struct {
	pauses   map[model.Stage]bool
	settings map[string]string
	items    map[int64]*model.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pauses:   make(map[model.Stage]bool),
		settings: map[string]string{model.SettingMaxRetryAttempts: "3"},
		items:    map[int64]*model.Item{1: {ID: 1, Stage: model.StageTriage, Status: model.StatusFailed}},
	}
}

func (f *fakeStore) CountByStageAndStatus(ctx context.Context) ([]store.StageStatusCount, error) {
	return []store.StageStatusCount{{Stage: model.StageTriage, Status: model.StatusPending, Count: 3}}, nil
}
func (f *fakeStore) QueueStats(ctx context.Context) ([]store.QueueStat, error) {
	return []store.QueueStat{{Stage: model.StageTriage, Status: model.StatusPending, Count: 3}}, nil
}
func (f *fakeStore) ListPending(ctx context.Context, stage model.Stage, limit int) ([]*model.Item, error) {
	return nil, nil
}
func (f *fakeStore) ListRejected(ctx context.Context, limit int) ([]*model.Item, error)        { return nil, nil }
func (f *fakeStore) ListFailed(ctx context.Context, limit int) ([]*model.Item, error)          { return nil, nil }
func (f *fakeStore) ListFallback(ctx context.Context, limit int) ([]*model.FallbackRecord, error) {
	return nil, nil
}
func (f *fakeStore) ListReadyForPosting(ctx context.Context, limit int) ([]*model.Item, error) {
	return nil, nil
}
func (f *fakeStore) GetItemHistory(ctx context.Context, itemID int64) ([]*model.StageArtifact, error) {
	return nil, nil
}
func (f *fakeStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return it, nil
}
func (f *fakeStore) ResubmitToPending(ctx context.Context, itemID int64) error {
	it, ok := f.items[itemID]
	if !ok || it.Status != model.StatusFailed {
		return store.ErrNotFound
	}
	it.Status = model.StatusPending
	return nil
}
func (f *fakeStore) AllSettings(ctx context.Context) (map[string]string, error) { return f.settings, nil }
func (f *fakeStore) UpsertSetting(ctx context.Context, key, value string) error {
	if !model.IsRecognizedSetting(key) {
		return store.ErrUnknownSetting
	}
	f.settings[key] = value
	return nil
}
func (f *fakeStore) SetPause(ctx context.Context, stage model.Stage, paused bool) error {
	f.pauses[stage] = paused
	return nil
}
func (f *fakeStore) GetPause(ctx context.Context, stage model.Stage) (bool, error) {
	return f.pauses[stage], nil
}

type fakeRegistryStore struct{ bindings map[model.Stage]model.EndpointBinding }

func (f *fakeRegistryStore) ListEndpoints(ctx context.Context) ([]model.EndpointBinding, error) {
	var out []model.EndpointBinding
	for _, b := range f.bindings {
		out = append(out, b)
	}
	return out, nil
}
func (f *fakeRegistryStore) GetEndpoint(ctx context.Context, stage model.Stage) (model.EndpointBinding, error) {
	return f.bindings[stage], nil
}
func (f *fakeRegistryStore) UpsertEndpoint(ctx context.Context, b model.EndpointBinding) error {
	f.bindings[b.Stage] = b
	return nil
}

type recoveryStub struct{}

func (r *recoveryStub) RecoverStuck(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	return nil, nil
}
func (r *recoveryStub) StuckReport(ctx context.Context, now time.Time, threshold time.Duration) ([]*model.Item, error) {
	return nil, nil
}
func (r *recoveryStub) GetSetting(ctx context.Context, key string) (string, error) { return "30", nil }
func (r *recoveryStub) CountByStageAndStatus(ctx context.Context) ([]store.StageStatusCount, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	regStore := &fakeRegistryStore{bindings: map[model.Stage]model.EndpointBinding{}}
	reg, err := registry.New(context.Background(), regStore)
	require.NoError(t, err)
	rec := recovery.New(&recoveryStub{}, 0)
	srv := New(fs, reg, rec, limiter.New(), nil)
	return srv, fs
}

func TestHandleSetPauseAndGetPause(t *testing.T) {
	srv, fs := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/stages/triage/pause", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, fs.pauses[model.StageTriage])

	req = httptest.NewRequest(http.MethodGet, "/v1/stages/triage/pause", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, true, body["paused"])
}

func TestHandlePutSettingRejectsUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/settings/not_real", strings.NewReader(`{"value":"1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResubmitRequiresFailedStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/items/1/resubmit", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/items/1/resubmit", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code, "an already-pending item cannot be resubmitted again")
}

func TestHandlePutEndpointRejectsUnknownProvider(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/endpoints/triage", strings.NewReader(`{"provider":"carrier_pigeon","base_url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown providers must be rejected before reaching the store")
}

func TestHandlePutEndpointAcceptsKnownProvider(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/endpoints/triage", strings.NewReader(`{"provider":"custom","base_url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQueueStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body []store.StageStatusCount
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body, 1)
}

func TestHandleEventsWithNoWriterReturnsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body []eventlog.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Empty(t, body)
}

func TestHandleEventsReturnsRecentlyWrittenEvents(t *testing.T) {
	fs := newFakeStore()
	regStore := &fakeRegistryStore{bindings: map[model.Stage]model.EndpointBinding{}}
	reg, err := registry.New(context.Background(), regStore)
	require.NoError(t, err)
	rec := recovery.New(&recoveryStub{}, 0)

	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)
	defer events.Close()
	require.NoError(t, events.Write(eventlog.Event{ItemID: 1, Stage: model.StageTriage, Kind: "transition", Detail: "advance"}))

	srv := New(fs, reg, rec, limiter.New(), events)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	recorder := httptest.NewRecorder()
	srv.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body []eventlog.Event
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	require.Len(t, body, 1)
	require.Equal(t, "transition", body[0].Kind)
}
