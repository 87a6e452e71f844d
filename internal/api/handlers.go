package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"contentpipe/internal/eventlog"
	"contentpipe/internal/logx"
	"contentpipe/internal/model"
	"contentpipe/internal/registry"
)

func (s *Server) handleSetPause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage := model.Stage(r.PathValue("stage"))
		if !validStage(stage) {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown stage %q", stage))
			return
		}
		if err := s.store.SetPause(r.Context(), stage, paused); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stage": stage, "paused": paused})
	}
}

func (s *Server) handleGetPause(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(r.PathValue("stage"))
	if !validStage(stage) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stage %q", stage))
		return
	}
	paused, err := s.store.GetPause(r.Context(), stage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stage": stage, "paused": paused})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStageAndStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(r.URL.Query().Get("stage"))
	if !validStage(stage) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter stage must be one of the pipeline stages"))
		return
	}
	limit := limitParam(r, 50)
	items, err := s.store.ListPending(r.Context(), stage, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListReadyForPosting(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	items, err := s.store.ListReadyForPosting(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListRejected(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	items, err := s.store.ListRejected(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	items, err := s.store.ListFailed(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListFallback(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50)
	records, err := s.store.ListFallback(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item id"))
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	history, err := s.store.GetItemHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "history": history})
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item id"))
		return
	}
	if err := s.store.ResubmitToPending(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "status": model.StatusPending})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AllSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.store.UpsertSetting(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

type endpointRequest struct {
	Provider       string  `json:"provider"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	AuthEnvKey     string  `json:"auth_env_key"`
	ConcurrencyCap int     `json:"concurrency_cap"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	DailyBudgetUSD float64 `json:"daily_budget_usd"`
}

func (s *Server) handlePutEndpoint(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(r.PathValue("stage"))
	if !validStage(stage) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stage %q", stage))
		return
	}

	var body endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	binding := model.EndpointBinding{
		Stage:          stage,
		Provider:       model.ProviderKind(body.Provider),
		BaseURL:        body.BaseURL,
		Model:          body.Model,
		AuthEnvKey:     body.AuthEnvKey,
		ConcurrencyCap: body.ConcurrencyCap,
		DailyBudgetUSD: body.DailyBudgetUSD,
	}
	if body.TimeoutSeconds > 0 {
		binding.Timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}

	if err := s.registry.Update(r.Context(), binding); err != nil {
		if errors.Is(err, registry.ErrUnknownProvider) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("endpoint rebound for stage %s: %s", stage, body.BaseURL)
	writeJSON(w, http.StatusOK, binding)
}

func (s *Server) handleProbeEndpoint(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(r.PathValue("stage"))
	if !validStage(stage) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown stage %q", stage))
		return
	}
	result := s.registry.Probe(r.Context(), stage)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReloadEndpoints(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleStuckReport(w http.ResponseWriter, r *http.Request) {
	items, err := s.recovery.StuckReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleStuckReset(w http.ResponseWriter, r *http.Request) {
	items, err := s.recovery.ForceRecover(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recovered": items})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := limitParam(r, 200)
	writeJSON(w, http.StatusOK, logx.Tail(n))
}

// handleEvents serves the most recently written audit-trail events, letting
// an operator inspect stage transitions, fallbacks, and recoveries without
// reading the JSONL files directly.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []eventlog.Event{})
		return
	}
	n := limitParam(r, 200)
	writeJSON(w, http.StatusOK, s.events.Tail(n))
}

func validStage(stage model.Stage) bool {
	for _, s := range model.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
