// Package handlers implements the HTTP endpoints for imports, statements
// and job executions.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/finledger/finledger/internal/api/middleware"
	"github.com/finledger/finledger/internal/csvimport"
	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/statement"
)

type importJobJSON struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	Status         string    `json:"status"`
	TotalRows      int       `json:"total_rows"`
	ValidRows      int       `json:"valid_rows"`
	DuplicateRows  int       `json:"duplicate_rows"`
	ErrorRows      int       `json:"error_rows"`
	ImportedRows   int       `json:"imported_rows"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	JobExecutionID string    `json:"job_execution_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func importJobToJSON(job *domain.ImportJob) importJobJSON {
	return importJobJSON{
		ID:             job.ID,
		AccountID:      job.AccountID,
		Filename:       job.Filename,
		FileSize:       job.FileSize,
		Status:         string(job.Status),
		TotalRows:      job.TotalRows,
		ValidRows:      job.ValidRows,
		DuplicateRows:  job.DuplicateRows,
		ErrorRows:      job.ErrorRows,
		ImportedRows:   job.ImportedRows,
		ErrorMessage:   job.ErrorMessage,
		JobExecutionID: job.JobExecutionID,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

type statementJSON struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id,omitempty"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	JobExecutionID string    `json:"job_execution_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func statementToJSON(st *domain.Statement) statementJSON {
	return statementJSON{
		ID:             st.ID,
		AccountID:      st.AccountID,
		Filename:       st.Filename,
		FileSize:       st.FileSize,
		Status:         string(st.Status),
		ErrorMessage:   st.ErrorMessage,
		JobExecutionID: st.JobExecutionID,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      st.UpdatedAt,
	}
}

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, csvimport.ErrInvalidUpload),
		errors.Is(err, statement.ErrInvalidUpload),
		errors.Is(err, statement.ErrAccountRequired):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, csvimport.ErrStagingExpired),
		errors.Is(err, statement.ErrStagingExpired):
		middleware.WriteError(w, http.StatusGone, err.Error())
	default:
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
