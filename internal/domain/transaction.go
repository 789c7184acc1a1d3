package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionSource records which pipeline committed a ledger entry.
type TransactionSource string

const (
	SourceCSVImport TransactionSource = "CSV_IMPORT"
	SourceStatement TransactionSource = "STATEMENT"
)

// Transaction is one committed ledger entry. This is the shape the pipelines
// write through the ledger collaborator; the wider ledger schema lives with
// that collaborator.
type Transaction struct {
	ID          string
	UserID      string
	AccountID   string
	Date        time.Time
	Amount      decimal.Decimal
	Currency    string
	Description string
	Category    string
	Notes       string

	Source TransactionSource
	// SourceJobID links back to the ImportJob or Statement that produced
	// this entry.
	SourceJobID string

	CreatedAt time.Time
}
