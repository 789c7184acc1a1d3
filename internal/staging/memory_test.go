package staging

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/domain"
)

func sampleRows() []*domain.CandidateRow {
	return []*domain.CandidateRow{
		{
			RowIndex:       0,
			Date:           time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Amount:         decimal.RequireFromString("-12.50"),
			Description:    "Costa Coffee",
			Classification: domain.ClassificationNew,
		},
		{
			RowIndex:       1,
			Classification: domain.ClassificationError,
			ErrorDetail:    "invalid date",
		},
	}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Put(ctx, "import-1", sampleRows()))

	rows, err := s.Get(ctx, "import-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Costa Coffee", rows[0].Description)

	require.NoError(t, s.Delete(ctx, "import-1"))
	_, err = s.Get(ctx, "import-1")
	assert.ErrorIs(t, err, ErrNotStaged)
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	require.NoError(t, s.Put(ctx, "import-1", sampleRows()))

	rows, err := s.Get(ctx, "import-1")
	require.NoError(t, err)
	rows[0].Description = "mutated"

	again, err := s.Get(ctx, "import-1")
	require.NoError(t, err)
	assert.Equal(t, "Costa Coffee", again[0].Description)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "import-1", sampleRows()))

	now = now.Add(59 * time.Minute)
	_, err := s.Get(ctx, "import-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "import-1")
	assert.ErrorIs(t, err, ErrNotStaged)

	assert.Equal(t, 1, s.Sweep(ctx))
	assert.Equal(t, 0, s.Sweep(ctx))
}

func TestMemoryStore_RestagingResetsExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "import-1", sampleRows()))
	now = now.Add(50 * time.Minute)
	require.NoError(t, s.Put(ctx, "import-1", sampleRows()))

	now = now.Add(50 * time.Minute)
	_, err := s.Get(ctx, "import-1")
	assert.NoError(t, err)
}
