package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/statement"
)

const statementsTable = "statements"

// StatementRow is the statements table shape.
type StatementRow struct {
	StatementID    string    `bigquery:"statement_id"`
	UserID         string    `bigquery:"user_id"`
	AccountID      string    `bigquery:"account_id"`
	Filename       string    `bigquery:"filename"`
	FileSize       int64     `bigquery:"file_size"`
	ChecksumSHA256 string    `bigquery:"checksum_sha256"`
	SourceURI      string    `bigquery:"source_uri"`
	TextURI        string    `bigquery:"text_uri"`
	Status         string    `bigquery:"status"`
	ErrorMessage   string    `bigquery:"error_message"`
	JobExecutionID string    `bigquery:"job_execution_id"`
	CreatedTS      time.Time `bigquery:"created_ts"`
	UpdatedTS      time.Time `bigquery:"updated_ts"`
}

const statementColumns = `
	statement_id, user_id, account_id, filename, file_size, checksum_sha256,
	source_uri, text_uri, status, error_message, job_execution_id,
	created_ts, updated_ts`

// StatementRepo persists statements in BigQuery.
type StatementRepo struct {
	c *Client
}

// NewStatementRepo creates the repository on a shared client.
func NewStatementRepo(c *Client) *StatementRepo {
	return &StatementRepo{c: c}
}

// Insert implements statement.Repository.
func (r *StatementRepo) Insert(ctx context.Context, st *domain.Statement) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		INSERT %s (%s)
		VALUES (
			@statement_id, @user_id, @account_id, @filename, @file_size,
			@checksum, @source_uri, "", @status, "", @job_execution_id,
			@created_ts, @updated_ts
		)
	`, r.c.table(statementsTable), statementColumns))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "statement_id", Value: st.ID},
		{Name: "user_id", Value: st.UserID},
		{Name: "account_id", Value: st.AccountID},
		{Name: "filename", Value: st.Filename},
		{Name: "file_size", Value: st.FileSize},
		{Name: "checksum", Value: st.Checksum},
		{Name: "source_uri", Value: st.SourceURI},
		{Name: "status", Value: string(st.Status)},
		{Name: "job_execution_id", Value: st.JobExecutionID},
		{Name: "created_ts", Value: st.CreatedAt},
		{Name: "updated_ts", Value: st.UpdatedAt},
	}
	if _, err := r.c.runDML(ctx, q); err != nil {
		return fmt.Errorf("insert statement: %w", err)
	}
	return nil
}

// Get implements statement.Repository.
func (r *StatementRepo) Get(ctx context.Context, id, userID string) (*domain.Statement, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE statement_id = @statement_id AND user_id = @user_id
		LIMIT 1
	`, statementColumns, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "statement_id", Value: id},
		{Name: "user_id", Value: userID},
	}
	return r.one(ctx, q)
}

// GetAny implements statement.Repository.
func (r *StatementRepo) GetAny(ctx context.Context, id string) (*domain.Statement, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE statement_id = @statement_id
		LIMIT 1
	`, statementColumns, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "statement_id", Value: id}}
	return r.one(ctx, q)
}

// FindByChecksum implements statement.Repository.
func (r *StatementRepo) FindByChecksum(ctx context.Context, userID, checksum string) (*domain.Statement, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id AND checksum_sha256 = @checksum
		ORDER BY created_ts DESC
		LIMIT 1
	`, statementColumns, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "checksum", Value: checksum},
	}
	return r.one(ctx, q)
}

// List implements statement.Repository.
func (r *StatementRepo) List(ctx context.Context, userID string) ([]*domain.Statement, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id
		ORDER BY created_ts DESC
	`, statementColumns, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	var statements []*domain.Statement
	for {
		var row StatementRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list statements: iterating: %w", err)
		}
		statements = append(statements, statementFromRow(&row))
	}
	return statements, nil
}

// ListByStatus returns statements currently in the given status, oldest
// first. The recovery worker uses it to pick up statements whose queued
// parse task was lost to a restart.
func (r *StatementRepo) ListByStatus(ctx context.Context, status domain.StatementStatus, olderThan time.Time) ([]*domain.Statement, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = @status AND updated_ts < @older_than
		ORDER BY updated_ts
	`, statementColumns, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "older_than", Value: olderThan},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statements by status: %w", err)
	}
	var statements []*domain.Statement
	for {
		var row StatementRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list statements by status: iterating: %w", err)
		}
		statements = append(statements, statementFromRow(&row))
	}
	return statements, nil
}

// Update implements statement.Repository. Status is deliberately not in the
// SET list.
func (r *StatementRepo) Update(ctx context.Context, st *domain.Statement) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET account_id = @account_id,
		    text_uri = @text_uri,
		    error_message = @error_message,
		    job_execution_id = @job_execution_id,
		    updated_ts = @updated_ts
		WHERE statement_id = @statement_id
	`, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: st.AccountID},
		{Name: "text_uri", Value: st.TextURI},
		{Name: "error_message", Value: st.ErrorMessage},
		{Name: "job_execution_id", Value: st.JobExecutionID},
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "statement_id", Value: st.ID},
	}
	affected, err := r.c.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("update statement: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusIf implements statement.Repository.
func (r *StatementRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.StatementStatus) error {
	q := r.c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @to, updated_ts = @updated_ts
		WHERE statement_id = @statement_id AND status = @from
	`, r.c.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "to", Value: string(to)},
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "statement_id", Value: id},
		{Name: "from", Value: string(from)},
	}
	affected, err := r.c.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("update statement status: %w", err)
	}
	if affected == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *StatementRepo) one(ctx context.Context, q *bigquery.Query) (*domain.Statement, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query statement: %w", err)
	}
	var row StatementRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query statement: reading row: %w", err)
	}
	return statementFromRow(&row), nil
}

func statementFromRow(row *StatementRow) *domain.Statement {
	return &domain.Statement{
		ID:             row.StatementID,
		UserID:         row.UserID,
		AccountID:      row.AccountID,
		Filename:       row.Filename,
		FileSize:       row.FileSize,
		Checksum:       row.ChecksumSHA256,
		SourceURI:      row.SourceURI,
		TextURI:        row.TextURI,
		Status:         domain.StatementStatus(row.Status),
		ErrorMessage:   row.ErrorMessage,
		JobExecutionID: row.JobExecutionID,
		CreatedAt:      row.CreatedTS,
		UpdatedAt:      row.UpdatedTS,
	}
}

var _ statement.Repository = (*StatementRepo)(nil)
