// Package csvimport orchestrates bulk CSV transaction imports: upload,
// row-level validation, duplicate classification, staging for review, and
// the confirm that commits approved rows to the ledger.
package csvimport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/dedup"
	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/filestore"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/keymutex"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/staging"
	"github.com/finledger/finledger/internal/statemachine"
)

// JobName is the job execution name recorded for CSV import runs.
const JobName = "csv_import"

var (
	// ErrInvalidUpload means the file failed an eager precondition (empty,
	// oversized, wrong content type). No record is created.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrStagingExpired means the staged candidate rows were dropped before
	// the user confirmed; the job is failed and the file must be re-uploaded.
	ErrStagingExpired = errors.New("staged candidate rows expired")
)

// UploadInput carries one uploaded CSV file.
type UploadInput struct {
	UserID      string
	AccountID   string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is the staged classification report returned to the client.
type UploadResult struct {
	Job  *domain.ImportJob
	Rows []*domain.CandidateRow
}

// ConfirmResult reports the outcome of committing a staged import.
type ConfirmResult struct {
	Job *domain.ImportJob
	// CommitErrors holds per-row ledger failures. They do not fail the job;
	// ImportedRows falling short of the staged count is the signal.
	CommitErrors []string
}

// ServiceConfig wires the service's collaborators.
type ServiceConfig struct {
	Repo        Repository
	Ledger      ledger.Ledger
	Accounts    ledger.Accounts
	Categories  ledger.Categories
	Files       filestore.Store
	Stage       staging.Store
	Tracker     *jobtrack.Tracker
	MaxFileSize int64
	Log         zerolog.Logger
}

// Service is the CSV import pipeline.
type Service struct {
	repo        Repository
	ledger      ledger.Ledger
	accounts    ledger.Accounts
	categories  ledger.Categories
	files       filestore.Store
	stage       staging.Store
	tracker     *jobtrack.Tracker
	locks       *keymutex.Mutex
	maxFileSize int64
	log         zerolog.Logger
}

// NewService creates the pipeline service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:        cfg.Repo,
		ledger:      cfg.Ledger,
		accounts:    cfg.Accounts,
		categories:  cfg.Categories,
		files:       cfg.Files,
		stage:       cfg.Stage,
		tracker:     cfg.Tracker,
		locks:       keymutex.New(),
		maxFileSize: cfg.MaxFileSize,
		log:         cfg.Log,
	}
}

// Template returns the canonical CSV header payload.
func (s *Service) Template() []byte {
	return []byte(Template)
}

// Upload validates preconditions, creates the import job and runs the
// validation stage synchronously, returning the full classification report.
// Re-uploading identical bytes for the same account returns the live
// existing job instead of creating a duplicate.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if err := s.checkUpload(in); err != nil {
		return nil, err
	}
	if _, err := s.accounts.Get(ctx, in.AccountID, in.UserID); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(in.Data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := s.repo.FindByChecksum(ctx, in.UserID, in.AccountID, checksum)
	if err == nil && !existing.Terminal() {
		rows, stageErr := s.stage.Get(ctx, existing.ID)
		if stageErr != nil {
			rows = nil
		}
		s.log.Info().Str("import_id", existing.ID).Msg("idempotent re-upload, returning existing import")
		return &UploadResult{Job: existing, Rows: rows}, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("checksum lookup: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.ImportJob{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		AccountID: in.AccountID,
		Filename:  path.Base(in.Filename),
		FileSize:  int64(len(in.Data)),
		Checksum:  checksum,
		Status:    domain.ImportStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	uri, err := s.files.Save(ctx, fmt.Sprintf("imports/%s/%s", job.ID, job.Filename), in.ContentType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("store uploaded file: %w", err)
	}
	job.SourceURI = uri

	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}

	exec, err := s.tracker.Start(ctx, JobName)
	if err != nil {
		return nil, fmt.Errorf("start job execution: %w", err)
	}
	job.JobExecutionID = exec.ID
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("link job execution: %w", err)
	}

	s.locks.Lock(job.ID)
	defer s.locks.Unlock(job.ID)

	if err := s.transition(ctx, job, domain.ImportStatusValidating); err != nil {
		return nil, err
	}

	rows, err := s.validate(ctx, job, in.Data)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Job: job, Rows: rows}, nil
}

func (s *Service) checkUpload(in UploadInput) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if int64(len(in.Data)) > s.maxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.maxFileSize)
	}
	if !csvContentType(in.ContentType, in.Filename) {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidUpload, in.ContentType)
	}
	return nil
}

func csvContentType(contentType, filename string) bool {
	switch {
	case strings.HasPrefix(contentType, "text/csv"),
		strings.HasPrefix(contentType, "application/csv"),
		strings.HasPrefix(contentType, "application/vnd.ms-excel"),
		strings.HasPrefix(contentType, "text/plain"):
		return true
	}
	return contentType == "" && strings.HasSuffix(strings.ToLower(filename), ".csv")
}

// validate is the VALIDATING stage: best-effort row parsing, duplicate
// classification against the account's ledger window, and staging. A
// format-level failure fails the job but is not an API error.
func (s *Service) validate(ctx context.Context, job *domain.ImportJob, data []byte) ([]*domain.CandidateRow, error) {
	cats, err := s.categories.ListActive(ctx)
	if err != nil {
		return nil, s.failJob(ctx, job, fmt.Sprintf("loading categories: %v", err))
	}
	catSet := make(map[string]bool, len(cats))
	for _, c := range cats {
		catSet[normalizeCategory(c.Name)] = true
	}

	rows, err := parseRows(data, catSet)
	if err != nil {
		s.recordStep(ctx, job.JobExecutionID, "parse_csv", jobtrack.StatusFailed, err.Error())
		return nil, s.failJob(ctx, job, err.Error())
	}
	s.recordStep(ctx, job.JobExecutionID, "parse_csv", jobtrack.StatusSucceeded,
		fmt.Sprintf("parsed %d rows", len(rows)))

	var existing []dedup.Entry
	if from, to, ok := dedup.WindowBounds(rows); ok {
		txs, err := s.ledger.ListWindow(ctx, job.AccountID, from, to)
		if err != nil {
			s.recordStep(ctx, job.JobExecutionID, "classify_rows", jobtrack.StatusFailed, err.Error())
			return nil, s.failJob(ctx, job, fmt.Sprintf("loading ledger window: %v", err))
		}
		existing = make([]dedup.Entry, len(txs))
		for i, tx := range txs {
			existing[i] = dedup.Entry{Date: tx.Date, Amount: tx.Amount, Description: tx.Description}
		}
	}

	dedup.Classify(rows, existing)

	job.TotalRows = len(rows)
	job.ValidRows, job.DuplicateRows, job.ErrorRows = 0, 0, 0
	for _, row := range rows {
		switch row.Classification {
		case domain.ClassificationNew:
			job.ValidRows++
		case domain.ClassificationDuplicate:
			job.DuplicateRows++
		case domain.ClassificationError:
			job.ErrorRows++
		}
	}
	s.recordStep(ctx, job.JobExecutionID, "classify_rows", jobtrack.StatusSucceeded,
		fmt.Sprintf("new=%d duplicate=%d error=%d", job.ValidRows, job.DuplicateRows, job.ErrorRows))

	if err := s.stage.Put(ctx, job.ID, rows); err != nil {
		s.recordStep(ctx, job.JobExecutionID, "stage_candidates", jobtrack.StatusFailed, err.Error())
		return nil, s.failJob(ctx, job, fmt.Sprintf("staging candidates: %v", err))
	}
	s.recordStep(ctx, job.JobExecutionID, "stage_candidates", jobtrack.StatusSucceeded, "")

	if err := s.transition(ctx, job, domain.ImportStatusValidated); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist validation counters: %w", err)
	}

	s.log.Info().
		Str("import_id", job.ID).
		Int("total", job.TotalRows).
		Int("valid", job.ValidRows).
		Int("duplicate", job.DuplicateRows).
		Int("error", job.ErrorRows).
		Msg("csv import validated")
	return rows, nil
}

// Confirm commits the staged rows to the ledger. It requires VALIDATED and
// is exactly-once: the compare-and-swap to IMPORTING makes a concurrent
// second confirm observe the advanced status and fail with ErrInvalidState.
func (s *Service) Confirm(ctx context.Context, importID, userID string, skipDuplicates bool) (*ConfirmResult, error) {
	s.locks.Lock(importID)
	defer s.locks.Unlock(importID)

	job, err := s.repo.Get(ctx, importID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.ImportStatusValidated {
		return nil, fmt.Errorf("%w: import is %s", domain.ErrInvalidState, job.Status)
	}
	if err := s.transition(ctx, job, domain.ImportStatusImporting); err != nil {
		return nil, err
	}

	rows, err := s.stage.Get(ctx, job.ID)
	if err != nil {
		if errors.Is(err, staging.ErrNotStaged) {
			_ = s.failJob(ctx, job, "staged candidate rows expired before confirm")
			return nil, ErrStagingExpired
		}
		return nil, fmt.Errorf("load staged rows: %w", err)
	}

	imported := 0
	var commitErrors []string
	now := time.Now().UTC()
	for _, row := range rows {
		if row.Classification == domain.ClassificationError {
			continue
		}
		if row.Classification == domain.ClassificationDuplicate && skipDuplicates {
			continue
		}

		tx := &domain.Transaction{
			ID:          uuid.NewString(),
			UserID:      job.UserID,
			AccountID:   job.AccountID,
			Date:        row.Date,
			Amount:      row.Amount,
			Description: row.Description,
			Category:    row.CategoryHint,
			Notes:       row.RawFields["notes"],
			Source:      domain.SourceCSVImport,
			SourceJobID: job.ID,
			CreatedAt:   now,
		}
		if err := s.ledger.Commit(ctx, tx); err != nil {
			commitErrors = append(commitErrors, fmt.Sprintf("row %d: %v", row.RowIndex, err))
			s.log.Warn().Err(err).Str("import_id", job.ID).Int("row", row.RowIndex).Msg("ledger commit failed")
			continue
		}
		imported++
	}

	detail := fmt.Sprintf("imported %d rows", imported)
	if len(commitErrors) > 0 {
		detail = fmt.Sprintf("imported %d rows, %d commit failures", imported, len(commitErrors))
	}
	s.recordStep(ctx, job.JobExecutionID, "commit_rows", jobtrack.StatusSucceeded, detail)

	job.ImportedRows = imported
	if err := s.transition(ctx, job, domain.ImportStatusCompleted); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist import counters: %w", err)
	}

	_ = s.stage.Delete(ctx, job.ID)
	if err := s.tracker.Finish(ctx, job.JobExecutionID, jobtrack.StatusSucceeded); err != nil {
		s.log.Warn().Err(err).Str("import_id", job.ID).Msg("finish job execution")
	}

	s.log.Info().
		Str("import_id", job.ID).
		Int("imported", imported).
		Int("commit_errors", len(commitErrors)).
		Bool("skip_duplicates", skipDuplicates).
		Msg("csv import completed")
	return &ConfirmResult{Job: job, CommitErrors: commitErrors}, nil
}

// Discard is the user-initiated administrative exit for a job that has not
// been confirmed yet.
func (s *Service) Discard(ctx context.Context, importID, userID string) (*domain.ImportJob, error) {
	s.locks.Lock(importID)
	defer s.locks.Unlock(importID)

	job, err := s.repo.Get(ctx, importID, userID)
	if err != nil {
		return nil, err
	}
	if !domain.CSVMachine.CanTransition(job.Status, domain.ImportStatusFailed) {
		return nil, fmt.Errorf("%w: import is %s", domain.ErrInvalidState, job.Status)
	}
	if err := s.failJob(ctx, job, "discarded by user"); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns one import with its staged rows, when still staged.
func (s *Service) Get(ctx context.Context, importID, userID string) (*domain.ImportJob, []*domain.CandidateRow, error) {
	job, err := s.repo.Get(ctx, importID, userID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.stage.Get(ctx, job.ID)
	if err != nil {
		rows = nil
	}
	return job, rows, nil
}

// List returns the caller's imports, most recent first.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.ImportJob, error) {
	return s.repo.List(ctx, userID)
}

// failJob moves the job to FAILED with the given message, drops its staged
// rows and finishes the execution. The transition must be legal from the
// job's current status.
func (s *Service) failJob(ctx context.Context, job *domain.ImportJob, message string) error {
	if err := s.transition(ctx, job, domain.ImportStatusFailed); err != nil {
		return err
	}
	job.ErrorMessage = message
	if err := s.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	_ = s.stage.Delete(ctx, job.ID)
	if job.JobExecutionID != "" {
		if err := s.tracker.Finish(ctx, job.JobExecutionID, jobtrack.StatusFailed); err != nil && !errors.Is(err, jobtrack.ErrAlreadyFinished) {
			s.log.Warn().Err(err).Str("import_id", job.ID).Msg("finish job execution")
		}
	}
	s.log.Warn().Str("import_id", job.ID).Str("reason", message).Msg("csv import failed")
	return nil
}

// transition validates the move against the edge table and applies it with
// a compare-and-swap, so a concurrent writer cannot double-transition.
func (s *Service) transition(ctx context.Context, job *domain.ImportJob, to domain.ImportStatus) error {
	next, err := domain.CSVMachine.Transition(job.Status, to)
	if err != nil {
		return invalidState(err)
	}
	if err := s.repo.UpdateStatusIf(ctx, job.ID, job.Status, next); err != nil {
		return invalidState(err)
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Service) recordStep(ctx context.Context, executionID, name string, status jobtrack.Status, detail string) {
	if executionID == "" {
		return
	}
	if _, err := s.tracker.RecordStep(ctx, executionID, name, status, detail); err != nil {
		s.log.Warn().Err(err).Str("step", name).Msg("record job step")
	}
}

// invalidState folds transition-table violations and CAS conflicts into the
// caller-visible ErrInvalidState.
func invalidState(err error) error {
	var ite *statemachine.InvalidTransitionError
	if errors.As(err, &ite) || errors.Is(err, domain.ErrStateConflict) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	return err
}
