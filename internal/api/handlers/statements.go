package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/statement"
)

var validate = validator.New()

// StatementsHandler serves the statement pipeline endpoints.
type StatementsHandler struct {
	svc       *statement.Service
	tracker   *jobtrack.Tracker
	maxUpload int64
	log       zerolog.Logger
}

// NewStatementsHandler creates the handler.
func NewStatementsHandler(svc *statement.Service, tracker *jobtrack.Tracker, maxUpload int64, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{svc: svc, tracker: tracker, maxUpload: maxUpload, log: log}
}

// Upload handles POST /api/statements. Multipart with a "file" part; the
// "account_id" field is optional and can be supplied at confirm instead.
func (h *StatementsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+4096)

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid multipart form")
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

	st, err := h.svc.Upload(ctx, statement.UploadInput{
		UserID:      middleware.GetUserID(ctx),
		AccountID:   r.FormValue("account_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"statement": statementToJSON(st),
	})
}

// List handles GET /api/statements.
func (h *StatementsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	statements, err := h.svc.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]statementJSON, len(statements))
	for i, st := range statements {
		out[i] = statementToJSON(st)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": out,
		"count":      len(out),
	})
}

// Get handles GET /api/statements/{statementID}.
func (h *StatementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, rows, err := h.svc.Get(ctx, chi.URLParam(r, "statementID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statement": statementToJSON(st),
		"rows":      rows,
	})
}

type confirmStatementRequest struct {
	StatementID string `json:"statement_id" validate:"required"`
	AccountID   string `json:"account_id" validate:"omitempty,max=128"`
	RowIndexes  []int  `json:"row_indexes" validate:"omitempty,dive,gte=0"`
}

// Confirm handles POST /api/statements/confirm. An empty row_indexes list
// commits every New candidate.
func (h *StatementsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Confirm(ctx, statement.ConfirmInput{
		StatementID: req.StatementID,
		UserID:      middleware.GetUserID(ctx),
		AccountID:   req.AccountID,
		RowIndexes:  req.RowIndexes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statement":     statementToJSON(res.Statement),
		"imported":      res.Imported,
		"commit_errors": res.CommitErrors,
	})
}

// Job handles GET /api/statements/{statementID}/job.
func (h *StatementsHandler) Job(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, _, err := h.svc.Get(ctx, chi.URLParam(r, "statementID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	exec, err := h.tracker.Get(ctx, st.JobExecutionID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	steps, err := h.tracker.Steps(ctx, st.JobExecutionID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"execution": exec,
		"steps":     steps,
	})
}

// Discard handles POST /api/statements/{statementID}/discard.
func (h *StatementsHandler) Discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.svc.Discard(ctx, chi.URLParam(r, "statementID"), middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statement": statementToJSON(st),
	})
}
