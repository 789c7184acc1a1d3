package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/ledger"
)

const transactionsTable = "transactions"

// TransactionRow is the transactions table shape. Amounts are stored as
// exact decimal strings; float columns would corrupt money values.
type TransactionRow struct {
	TransactionID string     `bigquery:"transaction_id"`
	UserID        string     `bigquery:"user_id"`
	AccountID     string     `bigquery:"account_id"`
	TxDate        civil.Date `bigquery:"tx_date"`
	Amount        string    `bigquery:"amount"`
	Currency      string    `bigquery:"currency"`
	Description   string    `bigquery:"description"`
	Category      string    `bigquery:"category"`
	Notes         string    `bigquery:"notes"`
	Source        string    `bigquery:"source"`
	SourceJobID   string    `bigquery:"source_job_id"`
	CreatedTS     time.Time `bigquery:"created_ts"`
}

// LedgerRepo is the BigQuery ledger.Ledger.
type LedgerRepo struct {
	c *Client
}

// NewLedgerRepo creates the repository on a shared client.
func NewLedgerRepo(c *Client) *LedgerRepo {
	return &LedgerRepo{c: c}
}

// Commit implements ledger.Ledger. Transactions are append-only, so the
// streaming inserter is fine here.
func (r *LedgerRepo) Commit(ctx context.Context, tx *domain.Transaction) error {
	row := &TransactionRow{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		AccountID:     tx.AccountID,
		TxDate:        civil.DateOf(tx.Date),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Description:   tx.Description,
		Category:      tx.Category,
		Notes:         tx.Notes,
		Source:        string(tx.Source),
		SourceJobID:   tx.SourceJobID,
		CreatedTS:     tx.CreatedAt,
	}
	inserter := r.c.bq.Dataset(r.c.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListWindow implements ledger.Ledger.
func (r *LedgerRepo) ListWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Transaction, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT transaction_id, user_id, account_id, tx_date, amount, currency,
		       description, category, notes, source, source_job_id, created_ts
		FROM %s
		WHERE account_id = @account_id
		  AND tx_date >= @from_date
		  AND tx_date <= @to_date
		ORDER BY tx_date, created_ts
	`, r.c.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "from_date", Value: civil.DateOf(from)},
		{Name: "to_date", Value: civil.DateOf(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transaction window: %w", err)
	}
	var txs []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list transaction window: iterating: %w", err)
		}
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s has malformed amount %q: %w", row.TransactionID, row.Amount, err)
		}
		txs = append(txs, &domain.Transaction{
			ID:          row.TransactionID,
			UserID:      row.UserID,
			AccountID:   row.AccountID,
			Date:        row.TxDate.In(time.UTC),
			Amount:      amount,
			Currency:    row.Currency,
			Description: row.Description,
			Category:    row.Category,
			Notes:       row.Notes,
			Source:      domain.TransactionSource(row.Source),
			SourceJobID: row.SourceJobID,
			CreatedAt:   row.CreatedTS,
		})
	}
	return txs, nil
}

var _ ledger.Ledger = (*LedgerRepo)(nil)
