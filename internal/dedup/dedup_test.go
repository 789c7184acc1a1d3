package dedup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"COSTA Coffee", "costa coffee"},
		{"  costa   coffee  ", "costa coffee"},
		{"COSTA-COFFEE #123", "costacoffee 123"},
		{"Tesco's, London!", "tescos london"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDescription(tt.input))
		})
	}
}

func TestMatch(t *testing.T) {
	base := Entry{Date: day("2025-03-10"), Amount: amt("-12.50"), Description: "Costa Coffee"}

	tests := []struct {
		name  string
		other Entry
		want  bool
	}{
		{
			name:  "same day same amount normalized description",
			other: Entry{Date: day("2025-03-10"), Amount: amt("-12.50"), Description: "COSTA   coffee"},
			want:  true,
		},
		{
			name:  "within tolerance window",
			other: Entry{Date: day("2025-03-13"), Amount: amt("-12.50"), Description: "Costa Coffee"},
			want:  true,
		},
		{
			name:  "just outside tolerance window",
			other: Entry{Date: day("2025-03-14"), Amount: amt("-12.50"), Description: "Costa Coffee"},
			want:  false,
		},
		{
			name:  "amount differs by a penny",
			other: Entry{Date: day("2025-03-10"), Amount: amt("-12.51"), Description: "Costa Coffee"},
			want:  false,
		},
		{
			name:  "different description",
			other: Entry{Date: day("2025-03-10"), Amount: amt("-12.50"), Description: "Pret"},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(base, tt.other))
			// Symmetric by construction.
			assert.Equal(t, Match(base, tt.other), Match(tt.other, base))
		})
	}
}

func TestClassify_AgainstLedgerWindow(t *testing.T) {
	rows := []*domain.CandidateRow{
		{RowIndex: 0, Date: day("2025-03-10"), Amount: amt("-12.50"), Description: "Costa Coffee"},
		{RowIndex: 1, Date: day("2025-03-11"), Amount: amt("-40.00"), Description: "Shell Petrol"},
	}
	existing := []Entry{
		// Posting date two days after the candidate's transaction date.
		{Date: day("2025-03-12"), Amount: amt("-12.50"), Description: "COSTA COFFEE"},
	}

	Classify(rows, existing)

	assert.Equal(t, domain.ClassificationDuplicate, rows[0].Classification)
	assert.Equal(t, domain.ClassificationNew, rows[1].Classification)
}

func TestClassify_IntraBatchDuplicates(t *testing.T) {
	rows := []*domain.CandidateRow{
		{RowIndex: 0, Date: day("2025-03-10"), Amount: amt("-9.99"), Description: "Netflix"},
		{RowIndex: 1, Date: day("2025-03-11"), Amount: amt("-9.99"), Description: "NETFLIX"},
		{RowIndex: 2, Date: day("2025-03-10"), Amount: amt("-9.99"), Description: "Spotify"},
	}

	Classify(rows, nil)

	// First occurrence stays New, the near-identical second row is flagged.
	assert.Equal(t, domain.ClassificationNew, rows[0].Classification)
	assert.Equal(t, domain.ClassificationDuplicate, rows[1].Classification)
	assert.Equal(t, domain.ClassificationNew, rows[2].Classification)
}

func TestClassify_SkipsErrorRows(t *testing.T) {
	rows := []*domain.CandidateRow{
		{RowIndex: 0, Classification: domain.ClassificationError, ErrorDetail: "bad date"},
		{RowIndex: 1, Date: day("2025-03-10"), Amount: amt("-5.00"), Description: "Bus"},
	}

	Classify(rows, nil)

	assert.Equal(t, domain.ClassificationError, rows[0].Classification)
	assert.Equal(t, domain.ClassificationNew, rows[1].Classification)
}

func TestClassify_Deterministic(t *testing.T) {
	mk := func() []*domain.CandidateRow {
		return []*domain.CandidateRow{
			{RowIndex: 0, Date: day("2025-03-10"), Amount: amt("-9.99"), Description: "Netflix"},
			{RowIndex: 1, Date: day("2025-03-12"), Amount: amt("-9.99"), Description: "netflix"},
			{RowIndex: 2, Date: day("2025-03-09"), Amount: amt("-3.20"), Description: "Coffee"},
		}
	}
	existing := []Entry{{Date: day("2025-03-08"), Amount: amt("-3.20"), Description: "coffee"}}

	first := mk()
	Classify(first, existing)
	for i := 0; i < 10; i++ {
		again := mk()
		Classify(again, existing)
		for j := range first {
			assert.Equal(t, first[j].Classification, again[j].Classification)
		}
	}
}

func TestWindowBounds(t *testing.T) {
	rows := []*domain.CandidateRow{
		{Date: day("2025-03-10")},
		{Date: day("2025-03-20")},
		{Classification: domain.ClassificationError},
	}

	from, to, ok := WindowBounds(rows)
	require.True(t, ok)
	assert.Equal(t, day("2025-03-07"), from)
	assert.Equal(t, day("2025-03-23"), to)

	_, _, ok = WindowBounds([]*domain.CandidateRow{{Classification: domain.ClassificationError}})
	assert.False(t, ok)
}
