package domain

import (
	"time"
)

// ImportStatus is the lifecycle state of a CSV import job.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "PENDING"
	ImportStatusValidating ImportStatus = "VALIDATING"
	ImportStatusValidated  ImportStatus = "VALIDATED"
	ImportStatusImporting  ImportStatus = "IMPORTING"
	ImportStatusCompleted  ImportStatus = "COMPLETED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// ImportJob tracks one upload-to-commit run of the CSV import pipeline.
// Status may only change through transitions allowed by CSVMachine, applied
// with a compare-and-swap on the persisted row; once COMPLETED or FAILED the
// record is never mutated again.
type ImportJob struct {
	ID        string
	UserID    string
	AccountID string

	Filename string
	FileSize int64
	// Checksum is the SHA-256 hex digest of the uploaded bytes, used to
	// detect idempotent re-uploads of the same file.
	Checksum  string
	SourceURI string

	Status ImportStatus

	TotalRows     int
	ValidRows     int
	DuplicateRows int
	ErrorRows     int
	ImportedRows  int

	// ErrorMessage is set only when Status is FAILED.
	ErrorMessage string

	// JobExecutionID is a weak reference to the execution that performed the
	// work. Re-running replaces it; neither side owns the other.
	JobExecutionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job can no longer change state.
func (j *ImportJob) Terminal() bool {
	return j.Status == ImportStatusCompleted || j.Status == ImportStatusFailed
}
