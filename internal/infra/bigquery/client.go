// Package bigquery holds the BigQuery-backed repositories. Mutable records
// (import jobs, statements, job executions) are written with parameterized
// DML so status moves can be compare-and-swapped on the affected row count;
// append-only records (steps, ledger transactions) go through the streaming
// inserter.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"
)

// Client wraps a shared BigQuery connection scoped to one dataset. All
// repositories share it; create one per process and Close it on shutdown.
type Client struct {
	bq        *bigquery.Client
	projectID string
	datasetID string
}

// NewClient connects to BigQuery. When credentialsFile is empty, application
// default credentials are used.
func NewClient(ctx context.Context, projectID, datasetID, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	bq, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &Client{bq: bq, projectID: projectID, datasetID: datasetID}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.bq.Close()
}

// table returns the fully qualified, backtick-quoted table name.
func (c *Client) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.projectID, c.datasetID, name)
}

// runDML executes a DML statement and returns the number of affected rows.
func (c *Client) runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running statement: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}
