// Package ledger defines the boundary to the external ledger and its
// sibling CRUD collaborators (accounts, categories). The pipelines only
// commit approved candidates and read a bounded window for duplicate
// detection; everything else about the ledger lives elsewhere.
package ledger

import (
	"context"
	"time"

	"github.com/finledger/finledger/internal/domain"
)

// Ledger commits approved candidate rows and serves bounded reads for
// duplicate detection.
type Ledger interface {
	// Commit writes one approved candidate as a real transaction. A failure
	// affects only that row; callers aggregate per-row errors.
	Commit(ctx context.Context, tx *domain.Transaction) error
	// ListWindow returns the account's entries with dates in [from, to].
	// Callers bound the window so duplicate detection stays proportional to
	// the batch, not the whole ledger.
	ListWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Transaction, error)
}

// Account is the minimal account view the pipelines need.
type Account struct {
	ID       string
	UserID   string
	Name     string
	Currency string
}

// Accounts resolves account ownership.
type Accounts interface {
	// Get returns the account, or domain.ErrNotFound when it does not exist
	// or belongs to another user.
	Get(ctx context.Context, accountID, userID string) (*Account, error)
}

// Category is one entry of the spending taxonomy.
type Category struct {
	ID   string
	Name string
}

// Categories lists the active taxonomy used to validate category references
// on imported rows.
type Categories interface {
	ListActive(ctx context.Context) ([]Category, error)
}
