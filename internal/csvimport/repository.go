package csvimport

import (
	"context"

	"github.com/finledger/finledger/internal/domain"
)

// Repository persists ImportJob records. Status never changes through
// Update: all status moves go through UpdateStatusIf so concurrent stage
// advances cannot double-transition a job.
type Repository interface {
	Insert(ctx context.Context, job *domain.ImportJob) error
	// Get returns the job, or domain.ErrNotFound when it does not exist or
	// belongs to another user.
	Get(ctx context.Context, id, userID string) (*domain.ImportJob, error)
	// FindByChecksum locates a previous upload of the same bytes for
	// idempotent re-upload detection. domain.ErrNotFound when none exists.
	FindByChecksum(ctx context.Context, userID, accountID, checksum string) (*domain.ImportJob, error)
	// List returns the user's imports, most recent first.
	List(ctx context.Context, userID string) ([]*domain.ImportJob, error)
	// Update persists counters, error message and the execution reference.
	// It must not touch Status.
	Update(ctx context.Context, job *domain.ImportJob) error
	// UpdateStatusIf atomically moves the job from one status to another,
	// returning domain.ErrStateConflict when the stored status is not from.
	UpdateStatusIf(ctx context.Context, id string, from, to domain.ImportStatus) error
}
