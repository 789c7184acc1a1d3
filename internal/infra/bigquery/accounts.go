package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/ledger"
)

const accountsTable = "accounts"

// AccountRow is the accounts table shape.
type AccountRow struct {
	AccountID string `bigquery:"account_id"`
	UserID    string `bigquery:"user_id"`
	Name      string `bigquery:"name"`
	Currency  string `bigquery:"currency"`
}

// AccountsRepo is the BigQuery ledger.Accounts.
type AccountsRepo struct {
	c *Client
}

// NewAccountsRepo creates the repository on a shared client.
func NewAccountsRepo(c *Client) *AccountsRepo {
	return &AccountsRepo{c: c}
}

// Get implements ledger.Accounts. Ownership is part of the predicate, so a
// foreign account is indistinguishable from a missing one.
func (r *AccountsRepo) Get(ctx context.Context, accountID, userID string) (*ledger.Account, error) {
	q := r.c.bq.Query(fmt.Sprintf(`
		SELECT account_id, user_id, name, currency
		FROM %s
		WHERE account_id = @account_id AND user_id = @user_id
		LIMIT 1
	`, r.c.table(accountsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: reading row: %w", err)
	}
	return &ledger.Account{
		ID:       row.AccountID,
		UserID:   row.UserID,
		Name:     row.Name,
		Currency: row.Currency,
	}, nil
}

var _ ledger.Accounts = (*AccountsRepo)(nil)
