package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/csvimport"
	"github.com/finledger/finledger/internal/jobtrack"
)

// ImportsHandler serves the CSV import endpoints.
type ImportsHandler struct {
	svc       *csvimport.Service
	tracker   *jobtrack.Tracker
	maxUpload int64
	log       zerolog.Logger
}

// NewImportsHandler creates the handler.
func NewImportsHandler(svc *csvimport.Service, tracker *jobtrack.Tracker, maxUpload int64, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{svc: svc, tracker: tracker, maxUpload: maxUpload, log: log}
}

// Upload handles POST /api/imports. The request is multipart with a "file"
// part and an "account_id" field; the full classification report comes back
// in the response.
func (h *ImportsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+4096)

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	accountID := r.FormValue("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "reading uploaded file")
		return
	}

	res, err := h.svc.Upload(ctx, csvimport.UploadInput{
		UserID:      middleware.GetUserID(ctx),
		AccountID:   accountID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"import": importJobToJSON(res.Job),
		"rows":   res.Rows,
	})
}

// Template handles GET /api/imports/template.
func (h *ImportsHandler) Template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="import_template.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(h.svc.Template())
}

// List handles GET /api/imports.
func (h *ImportsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobs, err := h.svc.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]importJobJSON, len(jobs))
	for i, job := range jobs {
		out[i] = importJobToJSON(job)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": out,
		"count":   len(out),
	})
}

// Get handles GET /api/imports/{importID}.
func (h *ImportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, rows, err := h.svc.Get(ctx, chi.URLParam(r, "importID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"import": importJobToJSON(job),
		"rows":   rows,
	})
}

type confirmImportRequest struct {
	ImportID       string `json:"import_id" validate:"required"`
	SkipDuplicates bool   `json:"skip_duplicates"`
}

// Confirm handles POST /api/imports/confirm. Duplicates are imported unless
// skip_duplicates is set.
func (h *ImportsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Confirm(ctx, req.ImportID, middleware.GetUserID(ctx), req.SkipDuplicates)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"import":        importJobToJSON(res.Job),
		"commit_errors": res.CommitErrors,
	})
}

// Job handles GET /api/imports/{importID}/job, returning the job execution
// that tracked this import together with its ordered steps.
func (h *ImportsHandler) Job(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, _, err := h.svc.Get(ctx, chi.URLParam(r, "importID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	exec, err := h.tracker.Get(ctx, job.JobExecutionID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	steps, err := h.tracker.Steps(ctx, job.JobExecutionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"execution": exec,
		"steps":     steps,
	})
}

// Discard handles POST /api/imports/{importID}/discard.
func (h *ImportsHandler) Discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := h.svc.Discard(ctx, chi.URLParam(r, "importID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"import": importJobToJSON(job),
	})
}
