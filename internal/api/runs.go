package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kernelforge/internal/model"
	"github.com/seantiz/kernelforge/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs and /v1/runs/async.
// Config is the provisioning bundle handed to the variant's planner.
type createRunRequest struct {
	Variant     string          `json:"variant"`
	RemainingMS int64           `json:"remaining_ms"`
	Config      json.RawMessage `json:"config"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// decodeRun reads a run request, writing a 400 and returning nil if it is
// malformed. Unknown variants are accepted here and fail the run itself.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) *model.Run {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil
	}

	if len(req.Config) == 0 || string(req.Config) == "null" {
		s.writeError(w, http.StatusBadRequest, "config is required")
		return nil
	}
	if req.RemainingMS < 0 {
		s.writeError(w, http.StatusBadRequest, "remaining_ms must not be negative")
		return nil
	}

	return &model.Run{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		Variant:     req.Variant,
		Bundle:      req.Config,
		RemainingMS: req.RemainingMS,
		CreatedAt:   time.Now().UTC(),
	}
}

// handleCreateRun executes a run and responds with its final state. The
// response may take as long as the run's budget.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	run := s.decodeRun(w, r)
	if run == nil {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("clear write deadline for run", "error", err)
	}

	final, err := s.engine.Execute(r.Context(), run)
	if err != nil {
		s.logger.Error("execute run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to execute run")
		return
	}

	s.writeJSON(w, http.StatusCreated, final)
}

func (s *Server) handleAsyncRun(w http.ResponseWriter, r *http.Request) {
	run := s.decodeRun(w, r)
	if run == nil {
		return
	}

	if err := s.engine.Submit(r.Context(), run); err != nil {
		s.logger.Error("submit async run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// lookupRun loads the run named in the URL, writing a 404 or 500 and
// returning nil when it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return nil
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
