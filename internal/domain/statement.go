package domain

import (
	"time"
)

// StatementStatus is the lifecycle state of a statement parsing job.
type StatementStatus string

const (
	StatementStatusUploaded      StatementStatus = "UPLOADED"
	StatementStatusTextExtracted StatementStatus = "TEXT_EXTRACTED"
	StatementStatusSentForAI     StatementStatus = "SENT_FOR_AI_PARSING"
	StatementStatusLLMParsed     StatementStatus = "LLM_PARSED"
	StatementStatusConfirming    StatementStatus = "CONFIRMING"
	StatementStatusCompleted     StatementStatus = "COMPLETED"
	StatementStatusFailed        StatementStatus = "FAILED"
)

// Statement tracks one upload-to-commit run of the statement parsing
// pipeline. AccountID may stay empty until the user confirms, since a
// scanned statement does not always identify the account it belongs to.
type Statement struct {
	ID        string
	UserID    string
	AccountID string

	Filename  string
	FileSize  int64
	Checksum  string
	SourceURI string
	// TextURI points at the extracted text stored after stage 1, so the
	// background parsing stage can re-read it without the original upload.
	TextURI string

	Status StatementStatus

	// ErrorMessage is set only when Status is FAILED.
	ErrorMessage string

	JobExecutionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the statement can no longer change state.
func (s *Statement) Terminal() bool {
	return s.Status == StatementStatusCompleted || s.Status == StatementStatusFailed
}
