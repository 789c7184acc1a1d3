package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/csvimport"
	"github.com/finledger/finledger/internal/domain"
)

const importJobsTable = "import_jobs"

// ImportJobRow is the import_jobs table shape.
type ImportJobRow struct {
	ImportID       string    `bigquery:"import_id"`
	UserID         string    `bigquery:"user_id"`
	AccountID      string    `bigquery:"account_id"`
	Filename       string    `bigquery:"filename"`
	FileSize       int64     `bigquery:"file_size"`
	ChecksumSHA256 string    `bigquery:"checksum_sha256"`
	SourceURI      string    `bigquery:"source_uri"`
	Status         string    `bigquery:"status"`
	TotalRows      int64     `bigquery:"total_rows"`
	ValidRows      int64     `bigquery:"valid_rows"`
	DuplicateRows  int64     `bigquery:"duplicate_rows"`
	ErrorRows      int64     `bigquery:"error_rows"`
	ImportedRows   int64     `bigquery:"imported_rows"`
	ErrorMessage   string    `bigquery:"error_message"`
	JobExecutionID string    `bigquery:"job_execution_id"`
	CreatedTS      time.Time `bigquery:"created_ts"`
	UpdatedTS      time.Time `bigquery:"updated_ts"`
}

const importJobColumns = `
	import_id, user_id, account_id, filename, file_size, checksum_sha256,
	source_uri, status, total_rows, valid_rows, duplicate_rows, error_rows,
	imported_rows, error_message, job_execution_id, created_ts, updated_ts`

// ImportRepo persists import jobs in BigQuery.
type ImportRepo struct {
	c *Client
}

// NewImportRepo creates the repository on a shared client.
func NewImportRepo(c *Client) *ImportRepo {
	return &ImportRepo{c: c}
}

// Insert implements csvimport.Repository. DML keeps the row out of the
// streaming buffer so later status updates can touch it.
func (r *ImportRepo) Insert(ctx context.Context, job *domain.ImportJob) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		INSERT %s (%s)
		VALUES (
			@import_id, @user_id, @account_id, @filename, @file_size,
			@checksum, @source_uri, @status, 0, 0, 0, 0, 0, "",
			@job_execution_id, @created_ts, @updated_ts
		)
	`, r.c.table(importJobsTable), importJobColumns))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "import_id", Value: job.ID},
		{Name: "user_id", Value: job.UserID},
		{Name: "account_id", Value: job.AccountID},
		{Name: "filename", Value: job.Filename},
		{Name: "file_size", Value: job.FileSize},
		{Name: "checksum", Value: job.Checksum},
		{Name: "source_uri", Value: job.SourceURI},
		{Name: "status", Value: string(job.Status)},
		{Name: "job_execution_id", Value: job.JobExecutionID},
		{Name: "created_ts", Value: job.CreatedAt},
		{Name: "updated_ts", Value: job.UpdatedAt},
	}
	if _, err := r.c.runDML(ctx, q); err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

// Get implements csvimport.Repository.
func (r *ImportRepo) Get(ctx context.Context, id, userID string) (*domain.ImportJob, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE import_id = @import_id AND user_id = @user_id
		LIMIT 1
	`, importJobColumns, r.c.table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "import_id", Value: id},
		{Name: "user_id", Value: userID},
	}
	return r.one(ctx, q)
}

// FindByChecksum implements csvimport.Repository. The newest upload wins
// when the same bytes were imported more than once.
func (r *ImportRepo) FindByChecksum(ctx context.Context, userID, accountID, checksum string) (*domain.ImportJob, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id AND account_id = @account_id AND checksum_sha256 = @checksum
		ORDER BY created_ts DESC
		LIMIT 1
	`, importJobColumns, r.c.table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "account_id", Value: accountID},
		{Name: "checksum", Value: checksum},
	}
	return r.one(ctx, q)
}

// List implements csvimport.Repository.
func (r *ImportRepo) List(ctx context.Context, userID string) ([]*domain.ImportJob, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id
		ORDER BY created_ts DESC
	`, importJobColumns, r.c.table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	var jobs []*domain.ImportJob
	for {
		var row ImportJobRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list import jobs: iterating: %w", err)
		}
		jobs = append(jobs, importJobFromRow(&row))
	}
	return jobs, nil
}

// Update implements csvimport.Repository. Status is deliberately not in the
// SET list.
func (r *ImportRepo) Update(ctx context.Context, job *domain.ImportJob) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET total_rows = @total_rows,
		    valid_rows = @valid_rows,
		    duplicate_rows = @duplicate_rows,
		    error_rows = @error_rows,
		    imported_rows = @imported_rows,
		    error_message = @error_message,
		    job_execution_id = @job_execution_id,
		    updated_ts = @updated_ts
		WHERE import_id = @import_id
	`, r.c.table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "total_rows", Value: int64(job.TotalRows)},
		{Name: "valid_rows", Value: int64(job.ValidRows)},
		{Name: "duplicate_rows", Value: int64(job.DuplicateRows)},
		{Name: "error_rows", Value: int64(job.ErrorRows)},
		{Name: "imported_rows", Value: int64(job.ImportedRows)},
		{Name: "error_message", Value: job.ErrorMessage},
		{Name: "job_execution_id", Value: job.JobExecutionID},
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "import_id", Value: job.ID},
	}
	affected, err := r.c.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusIf implements csvimport.Repository. Zero affected rows means
// another writer moved the status first.
func (r *ImportRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.ImportStatus) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @to, updated_ts = @updated_ts
		WHERE import_id = @import_id AND status = @from
	`, r.c.table(importJobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "to", Value: string(to)},
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "import_id", Value: id},
		{Name: "from", Value: string(from)},
	}
	affected, err := r.c.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("update import status: %w", err)
	}
	if affected == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *ImportRepo) one(ctx context.Context, q *bigquery.Query) (*domain.ImportJob, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query import job: %w", err)
	}
	var row ImportJobRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query import job: reading row: %w", err)
	}
	return importJobFromRow(&row), nil
}

func importJobFromRow(row *ImportJobRow) *domain.ImportJob {
	return &domain.ImportJob{
		ID:             row.ImportID,
		UserID:         row.UserID,
		AccountID:      row.AccountID,
		Filename:       row.Filename,
		FileSize:       row.FileSize,
		Checksum:       row.ChecksumSHA256,
		SourceURI:      row.SourceURI,
		Status:         domain.ImportStatus(row.Status),
		TotalRows:      int(row.TotalRows),
		ValidRows:      int(row.ValidRows),
		DuplicateRows:  int(row.DuplicateRows),
		ErrorRows:      int(row.ErrorRows),
		ImportedRows:   int(row.ImportedRows),
		ErrorMessage:   row.ErrorMessage,
		JobExecutionID: row.JobExecutionID,
		CreatedAt:      row.CreatedTS,
		UpdatedAt:      row.UpdatedTS,
	}
}

var _ csvimport.Repository = (*ImportRepo)(nil)
