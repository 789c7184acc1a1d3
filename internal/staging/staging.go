// Package staging holds classified candidate rows between upload and
// confirm. The data is a session-scoped cache: recomputed on each validation
// pass, discarded on confirm or terminal failure, and expired after a
// configured retention period so abandoned uploads do not accumulate.
package staging

import (
	"context"
	"errors"

	"github.com/finledger/finledger/internal/domain"
)

// ErrNotStaged is returned when no candidate rows exist for a key, either
// because none were staged or because the batch expired.
var ErrNotStaged = errors.New("no staged candidate rows")

// Store stages candidate rows keyed by import or statement id. Batches must
// survive a confirm round-trip across requests, so implementations persist
// per-key with an expiry, not per-request.
type Store interface {
	Put(ctx context.Context, key string, rows []*domain.CandidateRow) error
	Get(ctx context.Context, key string) ([]*domain.CandidateRow, error)
	Delete(ctx context.Context, key string) error
}
