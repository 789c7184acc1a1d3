package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification is the outcome of validating one candidate row.
type Classification string

const (
	// ClassificationNew marks a row not seen in the ledger or earlier in
	// the same batch.
	ClassificationNew Classification = "NEW"
	// ClassificationDuplicate marks a row matching an existing ledger entry
	// or an earlier row in the same batch. Not an error; the user decides.
	ClassificationDuplicate Classification = "DUPLICATE"
	// ClassificationError marks a row that failed schema validation.
	ClassificationError Classification = "ERROR"
)

// CandidateRow is a parsed, not-yet-committed transaction staged for user
// review. Candidates are recomputed on every validation pass and discarded
// once the owning job reaches a terminal state.
type CandidateRow struct {
	RowIndex  int               `json:"row_index"`
	RawFields map[string]string `json:"raw_fields,omitempty"`

	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	CategoryHint string          `json:"category_hint,omitempty"`

	Classification Classification `json:"classification"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
}
