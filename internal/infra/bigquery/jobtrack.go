package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/jobtrack"
)

const (
	executionsTable = "job_executions"
	stepsTable      = "job_steps"
)

// ExecutionRow is the job_executions table shape.
type ExecutionRow struct {
	ExecutionID string                 `bigquery:"execution_id"`
	JobName     string                 `bigquery:"job_name"`
	StartedTS   time.Time              `bigquery:"started_ts"`
	FinishedTS  bigquery.NullTimestamp `bigquery:"finished_ts"`
	Status      string                 `bigquery:"status"`
}

// StepRow is the job_steps table shape. Steps are append-only, so they go
// through the streaming inserter.
type StepRow struct {
	StepID      string    `bigquery:"step_id"`
	ExecutionID string    `bigquery:"execution_id"`
	StepOrder   int64     `bigquery:"step_order"`
	Name        string    `bigquery:"name"`
	Status      string    `bigquery:"status"`
	Detail      string    `bigquery:"detail"`
	RecordedTS  time.Time `bigquery:"recorded_ts"`
}

// JobTrackStore is the BigQuery jobtrack.Store.
type JobTrackStore struct {
	c *Client
}

// NewJobTrackStore creates the store on a shared client.
func NewJobTrackStore(c *Client) *JobTrackStore {
	return &JobTrackStore{c: c}
}

// InsertExecution implements jobtrack.Store.
func (s *JobTrackStore) InsertExecution(ctx context.Context, exec *jobtrack.Execution) error {
	q := s.c.bq.Query(fmt.Sprintf(`
		INSERT %s (execution_id, job_name, started_ts, finished_ts, status)
		VALUES (@execution_id, @job_name, @started_ts, NULL, @status)
	`, s.c.table(executionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "execution_id", Value: exec.ID},
		{Name: "job_name", Value: exec.JobName},
		{Name: "started_ts", Value: exec.StartedAt},
		{Name: "status", Value: string(exec.Status)},
	}
	if _, err := s.c.runDML(ctx, q); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution implements jobtrack.Store.
func (s *JobTrackStore) GetExecution(ctx context.Context, id string) (*jobtrack.Execution, error) {
	q := s.c.bq.Query(fmt.Sprintf(`
		SELECT execution_id, job_name, started_ts, finished_ts, status
		FROM %s
		WHERE execution_id = @execution_id
		LIMIT 1
	`, s.c.table(executionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "execution_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	var row ExecutionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: reading row: %w", err)
	}
	return executionFromRow(&row), nil
}

// FinishExecution implements jobtrack.Store. The predicate on finished_ts
// makes the terminal write exactly-once.
func (s *JobTrackStore) FinishExecution(ctx context.Context, id string, status jobtrack.Status, finishedAt time.Time) error {
	q := s.c.bq.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status, finished_ts = @finished_ts
		WHERE execution_id = @execution_id AND finished_ts IS NULL
	`, s.c.table(executionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "finished_ts", Value: finishedAt},
		{Name: "execution_id", Value: id},
	}
	affected, err := s.c.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetExecution(ctx, id); err != nil {
			return err
		}
		return jobtrack.ErrAlreadyFinished
	}
	return nil
}

// InsertStep implements jobtrack.Store.
func (s *JobTrackStore) InsertStep(ctx context.Context, step *jobtrack.Step) error {
	row := &StepRow{
		StepID:      step.ID,
		ExecutionID: step.ExecutionID,
		StepOrder:   int64(step.StepOrder),
		Name:        step.Name,
		Status:      string(step.Status),
		Detail:      step.Detail,
		RecordedTS:  step.RecordedAt,
	}
	inserter := s.c.bq.Dataset(s.c.datasetID).Table(stepsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// ListExecutions implements jobtrack.Store.
func (s *JobTrackStore) ListExecutions(ctx context.Context, filter jobtrack.Filter) ([]*jobtrack.Execution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT execution_id, job_name, started_ts, finished_ts, status
		FROM %s
	`, s.c.table(executionsTable))
	params := []bigquery.QueryParameter{
		{Name: "row_limit", Value: int64(limit)},
		{Name: "row_offset", Value: int64(filter.Offset)},
	}
	if filter.JobName != "" {
		query += "WHERE job_name = @job_name\n"
		params = append(params, bigquery.QueryParameter{Name: "job_name", Value: filter.JobName})
	}
	query += "ORDER BY started_ts DESC, execution_id\nLIMIT @row_limit OFFSET @row_offset"

	q := s.c.bq.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	var execs []*jobtrack.Execution
	for {
		var row ExecutionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list executions: iterating: %w", err)
		}
		execs = append(execs, executionFromRow(&row))
	}
	return execs, nil
}

// ListSteps implements jobtrack.Store.
func (s *JobTrackStore) ListSteps(ctx context.Context, executionID string) ([]*jobtrack.Step, error) {
	q := s.c.bq.Query(fmt.Sprintf(`
		SELECT step_id, execution_id, step_order, name, status, detail, recorded_ts
		FROM %s
		WHERE execution_id = @execution_id
		ORDER BY step_order
	`, s.c.table(stepsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "execution_id", Value: executionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	var steps []*jobtrack.Step
	for {
		var row StepRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list steps: iterating: %w", err)
		}
		steps = append(steps, &jobtrack.Step{
			ID:          row.StepID,
			ExecutionID: row.ExecutionID,
			StepOrder:   int(row.StepOrder),
			Name:        row.Name,
			Status:      jobtrack.Status(row.Status),
			Detail:      row.Detail,
			RecordedAt:  row.RecordedTS,
		})
	}
	return steps, nil
}

// MaxStepOrder implements jobtrack.Store.
func (s *JobTrackStore) MaxStepOrder(ctx context.Context, executionID string) (int, error) {
	q := s.c.bq.Query(fmt.Sprintf(`
		SELECT IFNULL(MAX(step_order), 0) AS max_order
		FROM %s
		WHERE execution_id = @execution_id
	`, s.c.table(stepsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "execution_id", Value: executionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("max step order: %w", err)
	}
	var row struct {
		MaxOrder int64 `bigquery:"max_order"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return 0, fmt.Errorf("max step order: reading row: %w", err)
	}
	return int(row.MaxOrder), nil
}

func executionFromRow(row *ExecutionRow) *jobtrack.Execution {
	exec := &jobtrack.Execution{
		ID:        row.ExecutionID,
		JobName:   row.JobName,
		StartedAt: row.StartedTS,
		Status:    jobtrack.Status(row.Status),
	}
	if row.FinishedTS.Valid {
		t := row.FinishedTS.Timestamp
		exec.FinishedAt = &t
	}
	return exec
}

var _ jobtrack.Store = (*JobTrackStore)(nil)
