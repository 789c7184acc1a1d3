// Package llm wraps the language model that turns extracted statement text
// into structured candidate transactions. The model is untrusted: its output
// is decoded strictly and always passes through duplicate classification and
// a human confirm step before anything reaches the ledger.
package llm

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one structured candidate produced by the model.
type Transaction struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Category    string
}

// Parser structures raw statement text into candidate transactions. The call
// is single-shot from the pipeline's view; retry policy, if any, lives
// behind the implementation.
type Parser interface {
	ParseStatement(ctx context.Context, text string) ([]Transaction, error)
}
