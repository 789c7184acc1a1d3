package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/domain"
)

// Template is the canonical CSV header served by GET /imports/template.
// Dates are YYYY-MM-DD; amounts use a decimal point, no thousands
// separators, negative for money out.
const Template = "date,amount,description,category,notes\n"

const dateLayout = "2006-01-02"

var requiredColumns = []string{"date", "amount", "description", "category"}

// FormatError means the file as a whole cannot be processed: wrong shape,
// missing required columns, or unreadable. It aborts the job with no
// row-level detail.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "csv format error: " + e.Reason
}

// parseRows reads the file best-effort: a row that fails schema validation
// becomes an Error candidate rather than aborting the batch. Only a
// format-level problem returns an error.
func parseRows(data []byte, categories map[string]bool) ([]*domain.CandidateRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &FormatError{Reason: "file is empty or not valid CSV"}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, &FormatError{Reason: fmt.Sprintf("missing required column %q", name)}
		}
	}

	var rows []*domain.CandidateRow
	for index := 0; ; index++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rows = append(rows, errorRow(index, nil, fmt.Sprintf("malformed CSV record: %v", parseErr.Err)))
			continue
		}
		if err != nil {
			return nil, &FormatError{Reason: err.Error()}
		}

		rows = append(rows, parseRecord(index, record, cols, categories))
	}
	return rows, nil
}

func parseRecord(index int, record []string, cols map[string]int, categories map[string]bool) *domain.CandidateRow {
	raw := make(map[string]string, len(cols))
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		v := strings.TrimSpace(record[i])
		raw[name] = v
		return v
	}

	dateStr := field("date")
	amountStr := field("amount")
	description := field("description")
	category := field("category")
	notes := field("notes")
	_ = notes

	if dateStr == "" || amountStr == "" || description == "" {
		return errorRow(index, raw, "missing required field")
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return errorRow(index, raw, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", dateStr))
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return errorRow(index, raw, fmt.Sprintf("invalid amount %q", amountStr))
	}

	if category != "" && !categories[normalizeCategory(category)] {
		return errorRow(index, raw, fmt.Sprintf("unknown category %q", category))
	}

	return &domain.CandidateRow{
		RowIndex:     index,
		RawFields:    raw,
		Date:         date,
		Amount:       amount,
		Description:  description,
		CategoryHint: category,
	}
}

func errorRow(index int, raw map[string]string, detail string) *domain.CandidateRow {
	return &domain.CandidateRow{
		RowIndex:       index,
		RawFields:      raw,
		Classification: domain.ClassificationError,
		ErrorDetail:    detail,
	}
}

// normalizeCategory makes taxonomy lookups case- and whitespace-insensitive.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
