package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/jobtrack"
)

// JobsHandler serves the job execution audit endpoints.
type JobsHandler struct {
	tracker *jobtrack.Tracker
	log     zerolog.Logger
}

// NewJobsHandler creates the handler.
func NewJobsHandler(tracker *jobtrack.Tracker, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{tracker: tracker, log: log}
}

// List handles GET /api/jobs. Supports job_name, limit and offset query
// parameters.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := jobtrack.Filter{JobName: r.URL.Query().Get("job_name")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	execs, err := h.tracker.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// Get handles GET /api/jobs/{executionID}, returning the execution with its
// ordered steps.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "executionID")

	exec, err := h.tracker.Get(ctx, executionID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	steps, err := h.tracker.Steps(ctx, executionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"execution": exec,
		"steps":     steps,
	})
}
