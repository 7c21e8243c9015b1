package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/notecrawler/internal/crawler"
	"github.com/JakeFAU/notecrawler/internal/metrics"
	"github.com/JakeFAU/notecrawler/internal/progress/sinks"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// ErrBusy is returned by a Runner that is already executing a run.
var ErrBusy = errors.New("a run is already in progress")

// RunRequest overrides the configured crawl for one run. Zero values keep the
// configured setting.
type RunRequest struct {
	Mode           string   `json:"mode"`
	Keywords       []string `json:"keywords"`
	NoteIDs        []string `json:"note_ids"`
	CreatorIDs     []string `json:"creator_ids"`
	MaxNotes       *int     `json:"max_notes"`
	EnableComments *bool    `json:"enable_comments"`
}

// Runner starts a crawl in the background and returns its run ID.
type Runner interface {
	Start(ctx context.Context, req RunRequest) (uuid.UUID, error)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(v, maxRunLimit)
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	switch state {
	case "", sinks.StateRunning, sinks.StateDone, sinks.StateFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown state "+strconv.Quote(state))
		return
	}

	runs := make([]sinks.RunStatus, 0, limit)
	for _, st := range s.status.List() {
		if state != "" && st.State != state {
			continue
		}
		runs = append(runs, st)
		if len(runs) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	st, ok := s.status.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": st})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runs cannot be started on this server")
		return
	}
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveRunRequest(metrics.RunRejected)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode != "" {
		if _, err := crawler.ParseMode(req.Mode); err != nil {
			metrics.ObserveRunRequest(metrics.RunRejected)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.MaxNotes != nil && *req.MaxNotes <= 0 {
		metrics.ObserveRunRequest(metrics.RunRejected)
		writeError(w, http.StatusBadRequest, "max_notes must be positive")
		return
	}
	id, err := s.runner.Start(r.Context(), req)
	switch {
	case errors.Is(err, ErrBusy):
		metrics.ObserveRunRequest(metrics.RunBusy)
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		metrics.ObserveRunRequest(metrics.RunRejected)
		s.logger.Warn("start run rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.ObserveRunRequest(metrics.RunAccepted)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id.String()})
}
