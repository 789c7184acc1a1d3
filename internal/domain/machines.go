package domain

import (
	"github.com/finledger/finledger/internal/statemachine"
)

// CSVMachine is the transition table for CSV import jobs.
//
// PENDING → VALIDATING → VALIDATED → IMPORTING → COMPLETED, with FAILED
// reachable once validation has started. VALIDATED → FAILED covers the
// user-initiated discard of a staged import.
var CSVMachine = statemachine.New(map[ImportStatus][]ImportStatus{
	ImportStatusPending:    {ImportStatusValidating},
	ImportStatusValidating: {ImportStatusValidated, ImportStatusFailed},
	ImportStatusValidated:  {ImportStatusImporting, ImportStatusFailed},
	ImportStatusImporting:  {ImportStatusCompleted, ImportStatusFailed},
})

// StatementMachine is the transition table for statement parsing jobs.
// FAILED is reachable from every non-terminal state.
var StatementMachine = statemachine.New(map[StatementStatus][]StatementStatus{
	StatementStatusUploaded:      {StatementStatusTextExtracted, StatementStatusFailed},
	StatementStatusTextExtracted: {StatementStatusSentForAI, StatementStatusFailed},
	StatementStatusSentForAI:     {StatementStatusLLMParsed, StatementStatusFailed},
	StatementStatusLLMParsed:     {StatementStatusConfirming, StatementStatusFailed},
	StatementStatusConfirming:    {StatementStatusCompleted, StatementStatusFailed},
})
