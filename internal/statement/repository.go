package statement

import (
	"context"

	"github.com/finledger/finledger/internal/domain"
)

// Repository persists Statement records. As with CSV imports, Update never
// touches Status: every status move goes through the compare-and-swap so
// concurrent stage advances cannot race each other.
type Repository interface {
	Insert(ctx context.Context, st *domain.Statement) error
	// Get returns the statement, or domain.ErrNotFound when it does not
	// exist or belongs to another user.
	Get(ctx context.Context, id, userID string) (*domain.Statement, error)
	// GetAny returns the statement regardless of owner. Background workers
	// use it because the queue task carries no user identity.
	GetAny(ctx context.Context, id string) (*domain.Statement, error)
	// FindByChecksum locates a previous upload of the same bytes for
	// idempotent re-upload detection. domain.ErrNotFound when none exists.
	FindByChecksum(ctx context.Context, userID, checksum string) (*domain.Statement, error)
	// List returns the user's statements, most recent first.
	List(ctx context.Context, userID string) ([]*domain.Statement, error)
	// Update persists everything except Status.
	Update(ctx context.Context, st *domain.Statement) error
	// UpdateStatusIf atomically moves the statement from one status to
	// another, returning domain.ErrStateConflict when the stored status is
	// not from.
	UpdateStatusIf(ctx context.Context, id string, from, to domain.StatementStatus) error
}
