// Package dedup computes transaction fingerprints and classifies candidate
// rows against existing ledger entries. Everything here is pure: same input,
// same classification.
package dedup

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// DateToleranceDays absorbs posting-date vs transaction-date skew: two
// entries with equal fingerprints count as duplicates when their dates are
// at most this many days apart.
const DateToleranceDays = 3

// Entry is the minimal view of a transaction the detector needs. Ledger
// entries and candidate rows are both compared through it.
type Entry struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// NormalizeDescription lower-cases, strips punctuation and collapses internal
// whitespace so that "COSTA Coffee  #123" and "costa coffee 123" fingerprint
// the same.
func NormalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint is the normalized (amount, description) identity of an entry.
// Amounts are rounded to the minor currency unit and compared exactly; the
// date is deliberately excluded because it matches within a tolerance window
// rather than exactly.
func Fingerprint(amount decimal.Decimal, description string) string {
	return amount.Round(2).String() + "|" + NormalizeDescription(description)
}

// Match reports whether two entries describe the same transaction. It is
// symmetric: Match(a, b) == Match(b, a).
func Match(a, b Entry) bool {
	if !a.Amount.Round(2).Equal(b.Amount.Round(2)) {
		return false
	}
	if Fingerprint(a.Amount, a.Description) != Fingerprint(b.Amount, b.Description) {
		return false
	}
	return withinTolerance(a.Date, b.Date)
}

func withinTolerance(a, b time.Time) bool {
	da := dayOf(a)
	db := dayOf(b)
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return diff <= DateToleranceDays*24*time.Hour
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Index holds existing entries keyed by fingerprint for O(rows × window)
// classification. The caller bounds the window (see WindowBounds).
type Index struct {
	dates map[string][]time.Time
}

// NewIndex builds an index over existing ledger entries.
func NewIndex(entries []Entry) *Index {
	ix := &Index{dates: make(map[string][]time.Time, len(entries))}
	for _, e := range entries {
		ix.Add(e)
	}
	return ix
}

// Add inserts one entry into the index.
func (ix *Index) Add(e Entry) {
	key := Fingerprint(e.Amount, e.Description)
	ix.dates[key] = append(ix.dates[key], e.Date)
}

// Contains reports whether the index holds a duplicate of e.
func (ix *Index) Contains(e Entry) bool {
	for _, d := range ix.dates[Fingerprint(e.Amount, e.Description)] {
		if withinTolerance(d, e.Date) {
			return true
		}
	}
	return false
}

// Classify marks each non-error candidate row New or Duplicate against the
// existing ledger window and against earlier rows of the same batch. The
// first occurrence of an intra-batch duplicate group stays New; later ones
// become Duplicate. Rows already classified Error are left untouched.
func Classify(rows []*domain.CandidateRow, existing []Entry) {
	ledger := NewIndex(existing)
	batch := NewIndex(nil)

	for _, row := range rows {
		if row.Classification == domain.ClassificationError {
			continue
		}
		e := Entry{Date: row.Date, Amount: row.Amount, Description: row.Description}
		if ledger.Contains(e) || batch.Contains(e) {
			row.Classification = domain.ClassificationDuplicate
		} else {
			row.Classification = domain.ClassificationNew
		}
		batch.Add(e)
	}
}

// WindowBounds returns [minDate − tolerance, maxDate + tolerance] over the
// non-error rows, for bounding the ledger query. ok is false when the batch
// has no dated rows.
func WindowBounds(rows []*domain.CandidateRow) (from, to time.Time, ok bool) {
	for _, row := range rows {
		if row.Classification == domain.ClassificationError {
			continue
		}
		d := dayOf(row.Date)
		if !ok {
			from, to, ok = d, d, true
			continue
		}
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	tol := DateToleranceDays * 24 * time.Hour
	return from.Add(-tol), to.Add(tol), true
}
