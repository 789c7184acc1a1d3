// Package statement orchestrates the credit-card statement pipeline: upload,
// synchronous text extraction, background model parsing, duplicate
// classification, staging, and the user confirm that commits approved
// candidates to the ledger.
package statement

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
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/filestore"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/keymutex"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/llm"
	"github.com/finledger/finledger/internal/queue"
	"github.com/finledger/finledger/internal/staging"
	"github.com/finledger/finledger/internal/statemachine"
)

// JobName is the job execution name recorded for statement parsing runs.
const JobName = "statement_parse"

var (
	// ErrInvalidUpload means the file failed an eager precondition. No
	// record is created.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrAccountRequired means the confirm did not name an account and the
	// statement does not carry one either.
	ErrAccountRequired = errors.New("account required to confirm statement")
	// ErrStagingExpired means the staged candidates were dropped before the
	// user confirmed; the statement is failed and must be re-uploaded.
	ErrStagingExpired = errors.New("staged candidate rows expired")
)

// Publisher enqueues background work. *queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, kind queue.TaskKind, refID string) error
}

// UploadInput carries one uploaded statement file.
type UploadInput struct {
	UserID string
	// AccountID is optional at upload; a statement that does not identify
	// its account gets one at confirm time.
	AccountID   string
	Filename    string
	ContentType string
	Data        []byte
}

// ConfirmInput names the rows to commit. An empty RowIndexes selects every
// NEW candidate; explicit indexes may also pull in duplicates the user wants
// anyway. Error rows never commit.
type ConfirmInput struct {
	StatementID string
	UserID      string
	AccountID   string
	RowIndexes  []int
}

// ConfirmResult reports the outcome of committing a confirmed statement.
type ConfirmResult struct {
	Statement *domain.Statement
	Imported  int
	// CommitErrors holds per-row ledger failures; they do not fail the run.
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
	Extractor   extract.Extractor
	Parser      llm.Parser
	Tracker     *jobtrack.Tracker
	Queue       Publisher
	MaxFileSize int64
	Log         zerolog.Logger
}

// Service is the statement parsing pipeline.
type Service struct {
	repo        Repository
	ledger      ledger.Ledger
	accounts    ledger.Accounts
	categories  ledger.Categories
	files       filestore.Store
	stage       staging.Store
	extractor   extract.Extractor
	parser      llm.Parser
	tracker     *jobtrack.Tracker
	queue       Publisher
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
		extractor:   cfg.Extractor,
		parser:      cfg.Parser,
		tracker:     cfg.Tracker,
		queue:       cfg.Queue,
		locks:       keymutex.New(),
		maxFileSize: cfg.MaxFileSize,
		log:         cfg.Log,
	}
}

// Upload stores the statement, runs text extraction synchronously and hands
// the statement to the background parsing stage. An extraction failure fails
// the statement but is not an API error; the returned record carries the
// FAILED status and message. Re-uploading identical bytes returns the live
// existing statement.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*domain.Statement, error) {
	if err := s.checkUpload(in); err != nil {
		return nil, err
	}
	if in.AccountID != "" {
		if _, err := s.accounts.Get(ctx, in.AccountID, in.UserID); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(in.Data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := s.repo.FindByChecksum(ctx, in.UserID, checksum)
	if err == nil && !existing.Terminal() {
		s.log.Info().Str("statement_id", existing.ID).Msg("idempotent re-upload, returning existing statement")
		return existing, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("checksum lookup: %w", err)
	}

	now := time.Now().UTC()
	st := &domain.Statement{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		AccountID: in.AccountID,
		Filename:  path.Base(in.Filename),
		FileSize:  int64(len(in.Data)),
		Checksum:  checksum,
		Status:    domain.StatementStatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	uri, err := s.files.Save(ctx, fmt.Sprintf("statements/%s/%s", st.ID, st.Filename), in.ContentType, in.Data)
	if err != nil {
		return nil, fmt.Errorf("store uploaded file: %w", err)
	}
	st.SourceURI = uri

	if err := s.repo.Insert(ctx, st); err != nil {
		return nil, fmt.Errorf("create statement: %w", err)
	}

	exec, err := s.tracker.Start(ctx, JobName)
	if err != nil {
		return nil, fmt.Errorf("start job execution: %w", err)
	}
	st.JobExecutionID = exec.ID
	if err := s.repo.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("link job execution: %w", err)
	}

	s.locks.Lock(st.ID)
	defer s.locks.Unlock(st.ID)

	text, err := s.extractor.ExtractText(ctx, st.Filename, in.ContentType, in.Data)
	if err != nil {
		s.recordStep(ctx, st.JobExecutionID, "extract_text", jobtrack.StatusFailed, err.Error())
		if failErr := s.failStatement(ctx, st, fmt.Sprintf("text extraction: %v", err)); failErr != nil {
			return nil, failErr
		}
		return st, nil
	}
	s.recordStep(ctx, st.JobExecutionID, "extract_text", jobtrack.StatusSucceeded,
		fmt.Sprintf("extracted %d characters", len(text)))

	textURI, err := s.files.Save(ctx, fmt.Sprintf("statements/%s/extracted.txt", st.ID), "text/plain; charset=utf-8", []byte(text))
	if err != nil {
		if failErr := s.failStatement(ctx, st, fmt.Sprintf("storing extracted text: %v", err)); failErr != nil {
			return nil, failErr
		}
		return st, nil
	}
	st.TextURI = textURI

	if err := s.transition(ctx, st, domain.StatementStatusTextExtracted); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("persist extracted text reference: %w", err)
	}

	if err := s.queue.Publish(ctx, queue.KindStatementParse, st.ID); err != nil {
		if failErr := s.failStatement(ctx, st, fmt.Sprintf("queueing parse task: %v", err)); failErr != nil {
			return nil, failErr
		}
		return st, nil
	}

	s.log.Info().Str("statement_id", st.ID).Msg("statement queued for parsing")
	return st, nil
}

func (s *Service) checkUpload(in UploadInput) error {
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if int64(len(in.Data)) > s.maxFileSize {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, s.maxFileSize)
	}
	if !statementContentType(in.ContentType) {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidUpload, in.ContentType)
	}
	return nil
}

func statementContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "application/pdf") ||
		strings.HasPrefix(contentType, "image/")
}

// HandleTask is the queue handler entry point.
func (s *Service) HandleTask(ctx context.Context, task queue.Task) error {
	if task.Kind != queue.KindStatementParse {
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	return s.ProcessParsing(ctx, task.RefID)
}

// ProcessParsing is the background stage: it takes a TEXT_EXTRACTED
// statement through model parsing and classification to CONFIRMING. A
// statement no longer in TEXT_EXTRACTED is skipped, which makes redelivery
// harmless. Pipeline failures are recorded on the statement, not returned.
func (s *Service) ProcessParsing(ctx context.Context, statementID string) error {
	s.locks.Lock(statementID)
	defer s.locks.Unlock(statementID)

	st, err := s.repo.GetAny(ctx, statementID)
	if err != nil {
		return fmt.Errorf("load statement %s: %w", statementID, err)
	}
	if st.Status != domain.StatementStatusTextExtracted {
		s.log.Info().Str("statement_id", st.ID).Str("status", string(st.Status)).Msg("skipping parse task, statement already advanced")
		return nil
	}
	if err := s.transition(ctx, st, domain.StatementStatusSentForAI); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}

	text, err := s.files.Fetch(ctx, st.TextURI)
	if err != nil {
		s.recordStep(ctx, st.JobExecutionID, "llm_parse", jobtrack.StatusFailed, err.Error())
		return s.failStatement(ctx, st, fmt.Sprintf("loading extracted text: %v", err))
	}

	parsed, err := s.parser.ParseStatement(ctx, string(text))
	if err != nil {
		s.recordStep(ctx, st.JobExecutionID, "llm_parse", jobtrack.StatusFailed, err.Error())
		return s.failStatement(ctx, st, fmt.Sprintf("model parsing: %v", err))
	}
	s.recordStep(ctx, st.JobExecutionID, "llm_parse", jobtrack.StatusSucceeded,
		fmt.Sprintf("model returned %d transactions", len(parsed)))

	if err := s.transition(ctx, st, domain.StatementStatusLLMParsed); err != nil {
		return err
	}

	rows, err := s.classify(ctx, st, parsed)
	if err != nil {
		s.recordStep(ctx, st.JobExecutionID, "classify_candidates", jobtrack.StatusFailed, err.Error())
		return s.failStatement(ctx, st, err.Error())
	}

	if err := s.stage.Put(ctx, st.ID, rows); err != nil {
		s.recordStep(ctx, st.JobExecutionID, "stage_candidates", jobtrack.StatusFailed, err.Error())
		return s.failStatement(ctx, st, fmt.Sprintf("staging candidates: %v", err))
	}
	s.recordStep(ctx, st.JobExecutionID, "stage_candidates", jobtrack.StatusSucceeded, "")

	if err := s.transition(ctx, st, domain.StatementStatusConfirming); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, st); err != nil {
		return fmt.Errorf("persist statement: %w", err)
	}

	s.log.Info().Str("statement_id", st.ID).Int("candidates", len(rows)).Msg("statement awaiting confirmation")
	return nil
}

// classify turns model output into candidate rows and marks duplicates. The
// model's category suggestions are kept only when they exist in the active
// taxonomy; anything else is dropped rather than flagged, since the user
// reviews every candidate anyway.
func (s *Service) classify(ctx context.Context, st *domain.Statement, parsed []llm.Transaction) ([]*domain.CandidateRow, error) {
	cats, err := s.categories.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %v", err)
	}
	catSet := make(map[string]bool, len(cats))
	for _, c := range cats {
		catSet[strings.ToUpper(strings.TrimSpace(c.Name))] = true
	}

	rows := make([]*domain.CandidateRow, len(parsed))
	for i, tx := range parsed {
		hint := strings.TrimSpace(tx.Category)
		if hint != "" && !catSet[strings.ToUpper(hint)] {
			hint = ""
		}
		rows[i] = &domain.CandidateRow{
			RowIndex:     i,
			Date:         tx.Date,
			Amount:       tx.Amount,
			Description:  tx.Description,
			CategoryHint: hint,
		}
	}

	var existing []dedup.Entry
	if st.AccountID != "" {
		if from, to, ok := dedup.WindowBounds(rows); ok {
			txs, err := s.ledger.ListWindow(ctx, st.AccountID, from, to)
			if err != nil {
				return nil, fmt.Errorf("loading ledger window: %v", err)
			}
			existing = make([]dedup.Entry, len(txs))
			for i, tx := range txs {
				existing[i] = dedup.Entry{Date: tx.Date, Amount: tx.Amount, Description: tx.Description}
			}
		}
	}
	dedup.Classify(rows, existing)

	newCount, dupCount := 0, 0
	for _, row := range rows {
		switch row.Classification {
		case domain.ClassificationNew:
			newCount++
		case domain.ClassificationDuplicate:
			dupCount++
		}
	}
	s.recordStep(ctx, st.JobExecutionID, "classify_candidates", jobtrack.StatusSucceeded,
		fmt.Sprintf("new=%d duplicate=%d", newCount, dupCount))
	return rows, nil
}

// Confirm commits the selected candidates to the ledger and completes the
// statement. The statement must be CONFIRMING; the per-statement lock plus
// the final compare-and-swap make confirm exactly-once.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	s.locks.Lock(in.StatementID)
	defer s.locks.Unlock(in.StatementID)

	st, err := s.repo.Get(ctx, in.StatementID, in.UserID)
	if err != nil {
		return nil, err
	}
	if st.Status != domain.StatementStatusConfirming {
		return nil, fmt.Errorf("%w: statement is %s", domain.ErrInvalidState, st.Status)
	}

	accountID := st.AccountID
	if in.AccountID != "" {
		accountID = in.AccountID
	}
	if accountID == "" {
		return nil, ErrAccountRequired
	}
	if _, err := s.accounts.Get(ctx, accountID, in.UserID); err != nil {
		return nil, err
	}

	rows, err := s.stage.Get(ctx, st.ID)
	if err != nil {
		if errors.Is(err, staging.ErrNotStaged) {
			_ = s.failStatement(ctx, st, "staged candidates expired before confirm")
			return nil, ErrStagingExpired
		}
		return nil, fmt.Errorf("load staged rows: %w", err)
	}

	selected := make(map[int]bool, len(in.RowIndexes))
	for _, idx := range in.RowIndexes {
		selected[idx] = true
	}

	imported := 0
	var commitErrors []string
	now := time.Now().UTC()
	for _, row := range rows {
		if row.Classification == domain.ClassificationError {
			continue
		}
		if len(selected) == 0 {
			if row.Classification != domain.ClassificationNew {
				continue
			}
		} else if !selected[row.RowIndex] {
			continue
		}

		tx := &domain.Transaction{
			ID:          uuid.NewString(),
			UserID:      st.UserID,
			AccountID:   accountID,
			Date:        row.Date,
			Amount:      row.Amount,
			Description: row.Description,
			Category:    row.CategoryHint,
			Source:      domain.SourceStatement,
			SourceJobID: st.ID,
			CreatedAt:   now,
		}
		if err := s.ledger.Commit(ctx, tx); err != nil {
			commitErrors = append(commitErrors, fmt.Sprintf("row %d: %v", row.RowIndex, err))
			s.log.Warn().Err(err).Str("statement_id", st.ID).Int("row", row.RowIndex).Msg("ledger commit failed")
			continue
		}
		imported++
	}

	detail := fmt.Sprintf("imported %d rows", imported)
	if len(commitErrors) > 0 {
		detail = fmt.Sprintf("imported %d rows, %d commit failures", imported, len(commitErrors))
	}
	s.recordStep(ctx, st.JobExecutionID, "commit_rows", jobtrack.StatusSucceeded, detail)

	st.AccountID = accountID
	if err := s.transition(ctx, st, domain.StatementStatusCompleted); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, st); err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}

	_ = s.stage.Delete(ctx, st.ID)
	if err := s.tracker.Finish(ctx, st.JobExecutionID, jobtrack.StatusSucceeded); err != nil {
		s.log.Warn().Err(err).Str("statement_id", st.ID).Msg("finish job execution")
	}

	s.log.Info().
		Str("statement_id", st.ID).
		Int("imported", imported).
		Int("commit_errors", len(commitErrors)).
		Msg("statement confirmed")
	return &ConfirmResult{Statement: st, Imported: imported, CommitErrors: commitErrors}, nil
}

// Discard is the user-initiated administrative exit for a statement that has
// not completed.
func (s *Service) Discard(ctx context.Context, statementID, userID string) (*domain.Statement, error) {
	s.locks.Lock(statementID)
	defer s.locks.Unlock(statementID)

	st, err := s.repo.Get(ctx, statementID, userID)
	if err != nil {
		return nil, err
	}
	if !domain.StatementMachine.CanTransition(st.Status, domain.StatementStatusFailed) {
		return nil, fmt.Errorf("%w: statement is %s", domain.ErrInvalidState, st.Status)
	}
	if err := s.failStatement(ctx, st, "discarded by user"); err != nil {
		return nil, err
	}
	return st, nil
}

// Get returns one statement with its staged candidates, when still staged.
func (s *Service) Get(ctx context.Context, statementID, userID string) (*domain.Statement, []*domain.CandidateRow, error) {
	st, err := s.repo.Get(ctx, statementID, userID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.stage.Get(ctx, st.ID)
	if err != nil {
		rows = nil
	}
	return st, rows, nil
}

// List returns the caller's statements, most recent first.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.Statement, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) failStatement(ctx context.Context, st *domain.Statement, message string) error {
	if err := s.transition(ctx, st, domain.StatementStatusFailed); err != nil {
		return err
	}
	st.ErrorMessage = message
	if err := s.repo.Update(ctx, st); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	_ = s.stage.Delete(ctx, st.ID)
	if st.JobExecutionID != "" {
		if err := s.tracker.Finish(ctx, st.JobExecutionID, jobtrack.StatusFailed); err != nil && !errors.Is(err, jobtrack.ErrAlreadyFinished) {
			s.log.Warn().Err(err).Str("statement_id", st.ID).Msg("finish job execution")
		}
	}
	s.log.Warn().Str("statement_id", st.ID).Str("reason", message).Msg("statement failed")
	return nil
}

func (s *Service) transition(ctx context.Context, st *domain.Statement, to domain.StatementStatus) error {
	next, err := domain.StatementMachine.Transition(st.Status, to)
	if err != nil {
		return invalidState(err)
	}
	if err := s.repo.UpdateStatusIf(ctx, st.ID, st.Status, next); err != nil {
		return invalidState(err)
	}
	st.Status = next
	st.UpdatedAt = time.Now().UTC()
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

func invalidState(err error) error {
	var ite *statemachine.InvalidTransitionError
	if errors.As(err, &ite) || errors.Is(err, domain.ErrStateConflict) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	return err
}
