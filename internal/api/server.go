// Package api implements the JSON-only control and observability HTTP
// API described in spec.md §4.7. It intentionally carries no HTML
// templates and no Basic Auth: those are out of scope per spec.md §1.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"contentpipe/internal/eventlog"
	"contentpipe/internal/limiter"
	"contentpipe/internal/logx"
	"contentpipe/internal/metrics"
	"contentpipe/internal/model"
	"contentpipe/internal/recovery"
	"contentpipe/internal/registry"
	"contentpipe/internal/store"
	"contentpipe/internal/version"
)

// Store is the subset of store.Store the control API needs.
type Store interface {
	CountByStageAndStatus(ctx context.Context) ([]store.StageStatusCount, error)
	QueueStats(ctx context.Context) ([]store.QueueStat, error)
	ListPending(ctx context.Context, stage model.Stage, limit int) ([]*model.Item, error)
	ListRejected(ctx context.Context, limit int) ([]*model.Item, error)
	ListFailed(ctx context.Context, limit int) ([]*model.Item, error)
	ListFallback(ctx context.Context, limit int) ([]*model.FallbackRecord, error)
	ListReadyForPosting(ctx context.Context, limit int) ([]*model.Item, error)
	GetItemHistory(ctx context.Context, itemID int64) ([]*model.StageArtifact, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ResubmitToPending(ctx context.Context, itemID int64) error
	AllSettings(ctx context.Context) (map[string]string, error)
	UpsertSetting(ctx context.Context, key, value string) error
	SetPause(ctx context.Context, stage model.Stage, paused bool) error
	GetPause(ctx context.Context, stage model.Stage) (bool, error)
}

// Server wires the store, registry, recovery manager, and limiter into a
// single JSON HTTP API.
type Server struct {
	store    Store
	registry *registry.Registry
	recovery *recovery.Manager
	limiter  *limiter.Limiter
	events   *eventlog.Writer
	logger   *logx.Logger
	mux      *http.ServeMux
}

// New builds a Server with every route registered.
func New(st Store, reg *registry.Registry, rec *recovery.Manager, lim *limiter.Limiter, events *eventlog.Writer) *Server {
	s := &Server{
		store:    st,
		registry: reg,
		recovery: rec,
		limiter:  lim,
		events:   events,
		logger:   logx.NewLogger("api"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("POST /v1/stages/{stage}/pause", s.handleSetPause(true))
	s.mux.HandleFunc("POST /v1/stages/{stage}/resume", s.handleSetPause(false))
	s.mux.HandleFunc("GET /v1/stages/{stage}/pause", s.handleGetPause)

	s.mux.HandleFunc("GET /v1/queue/status", s.handleQueueStatus)
	s.mux.HandleFunc("GET /v1/queue/stats", s.handleQueueStats)

	s.mux.HandleFunc("GET /v1/items/pending", s.handleListPending)
	s.mux.HandleFunc("GET /v1/items/rejected", s.handleListRejected)
	s.mux.HandleFunc("GET /v1/items/failed", s.handleListFailed)
	s.mux.HandleFunc("GET /v1/items/ready-for-posting", s.handleListReadyForPosting)
	s.mux.HandleFunc("GET /v1/items/{id}/history", s.handleItemHistory)
	s.mux.HandleFunc("POST /v1/items/{id}/resubmit", s.handleResubmit)

	s.mux.HandleFunc("GET /v1/fallback", s.handleListFallback)

	s.mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /v1/settings/{key}", s.handlePutSetting)

	s.mux.HandleFunc("PUT /v1/endpoints/{stage}", s.handlePutEndpoint)
	s.mux.HandleFunc("GET /v1/endpoints/{stage}/probe", s.handleProbeEndpoint)
	s.mux.HandleFunc("POST /v1/endpoints/reload", s.handleReloadEndpoints)

	s.mux.HandleFunc("GET /v1/stuck", s.handleStuckReport)
	s.mux.HandleFunc("POST /v1/stuck/reset", s.handleStuckReset)

	s.mux.HandleFunc("GET /v1/logs", s.handleLogs)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /v1/version", s.handleVersion)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.NewLogger("api").Error("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
