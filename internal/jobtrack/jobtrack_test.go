package jobtrack_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/jobtrack/inmemory"
)

func newTracker() *jobtrack.Tracker {
	return jobtrack.New(inmemory.NewStore())
}

func TestStartAndFinish(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	exec, err := tr.Start(ctx, "csv_import")
	require.NoError(t, err)
	assert.Equal(t, jobtrack.StatusRunning, exec.Status)
	assert.Nil(t, exec.FinishedAt)

	require.NoError(t, tr.Finish(ctx, exec.ID, jobtrack.StatusSucceeded))

	got, err := tr.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, jobtrack.StatusSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestFinish_TwiceFails(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	exec, err := tr.Start(ctx, "csv_import")
	require.NoError(t, err)

	require.NoError(t, tr.Finish(ctx, exec.ID, jobtrack.StatusFailed))
	err = tr.Finish(ctx, exec.ID, jobtrack.StatusSucceeded)
	assert.ErrorIs(t, err, jobtrack.ErrAlreadyFinished)

	// The first outcome sticks.
	got, err := tr.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, jobtrack.StatusFailed, got.Status)
}

func TestFinish_RejectsRunningOutcome(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	exec, err := tr.Start(ctx, "csv_import")
	require.NoError(t, err)
	assert.Error(t, tr.Finish(ctx, exec.ID, jobtrack.StatusRunning))
}

func TestRecordStep_OrderIsGapFreeAscending(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	exec, err := tr.Start(ctx, "statement_parse")
	require.NoError(t, err)

	names := []string{"extract_text", "llm_parse", "classify_candidates", "stage_candidates"}
	for _, name := range names {
		_, err := tr.RecordStep(ctx, exec.ID, name, jobtrack.StatusSucceeded, "")
		require.NoError(t, err)
	}

	steps, err := tr.Steps(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, len(names))
	for i, st := range steps {
		assert.Equal(t, i+1, st.StepOrder)
		assert.Equal(t, names[i], st.Name)
	}
}

func TestRecordStep_ConcurrentEmission(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	exec, err := tr.Start(ctx, "csv_import")
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := tr.RecordStep(ctx, exec.ID, "step", jobtrack.StatusSucceeded, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	steps, err := tr.Steps(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, steps, n)
	for i, st := range steps {
		assert.Equal(t, i+1, st.StepOrder, "strictly increasing with no gaps")
	}
}

func TestList_MostRecentFirstAndPaginated(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	var ids []string
	for i := 0; i < 5; i++ {
		name := "csv_import"
		if i%2 == 1 {
			name = "statement_parse"
		}
		exec, err := tr.Start(ctx, name)
		require.NoError(t, err)
		ids = append(ids, exec.ID)
	}

	all, err := tr.List(ctx, jobtrack.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 0; i < len(all)-1; i++ {
		assert.False(t, all[i].StartedAt.Before(all[i+1].StartedAt))
	}

	page, err := tr.List(ctx, jobtrack.Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	byName, err := tr.List(ctx, jobtrack.Filter{JobName: "statement_parse"})
	require.NoError(t, err)
	require.Len(t, byName, 2)
	for _, exec := range byName {
		assert.Equal(t, "statement_parse", exec.JobName)
	}

	_ = ids
}

func TestRecordStep_SeedsOrderFromStore(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	first := jobtrack.New(store)
	exec, err := first.Start(ctx, "csv_import")
	require.NoError(t, err)
	_, err = first.RecordStep(ctx, exec.ID, "parse_csv", jobtrack.StatusSucceeded, "")
	require.NoError(t, err)

	// A fresh tracker over the same store continues where the first left off.
	second := jobtrack.New(store)
	st, err := second.RecordStep(ctx, exec.ID, "classify_rows", jobtrack.StatusSucceeded, "")
	require.NoError(t, err)
	assert.Equal(t, 2, st.StepOrder)
}
