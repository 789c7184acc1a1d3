package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCSVMachine_HappyPath(t *testing.T) {
	path := []ImportStatus{
		ImportStatusPending,
		ImportStatusValidating,
		ImportStatusValidated,
		ImportStatusImporting,
		ImportStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CSVMachine.CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCSVMachine_FailureEdges(t *testing.T) {
	assert.True(t, CSVMachine.CanTransition(ImportStatusValidating, ImportStatusFailed))
	assert.True(t, CSVMachine.CanTransition(ImportStatusImporting, ImportStatusFailed))
	// Discard of a staged import.
	assert.True(t, CSVMachine.CanTransition(ImportStatusValidated, ImportStatusFailed))

	// No skipping stages, no leaving terminal states.
	assert.False(t, CSVMachine.CanTransition(ImportStatusPending, ImportStatusValidated))
	assert.False(t, CSVMachine.CanTransition(ImportStatusValidated, ImportStatusCompleted))
	assert.False(t, CSVMachine.CanTransition(ImportStatusCompleted, ImportStatusImporting))
	assert.False(t, CSVMachine.CanTransition(ImportStatusFailed, ImportStatusValidating))

	assert.True(t, CSVMachine.Terminal(ImportStatusCompleted))
	assert.True(t, CSVMachine.Terminal(ImportStatusFailed))
}

func TestStatementMachine_FailedFromEveryNonTerminalState(t *testing.T) {
	nonTerminal := []StatementStatus{
		StatementStatusUploaded,
		StatementStatusTextExtracted,
		StatementStatusSentForAI,
		StatementStatusLLMParsed,
		StatementStatusConfirming,
	}
	for _, s := range nonTerminal {
		assert.True(t, StatementMachine.CanTransition(s, StatementStatusFailed), "from %s", s)
	}

	assert.True(t, StatementMachine.Terminal(StatementStatusCompleted))
	assert.True(t, StatementMachine.Terminal(StatementStatusFailed))
	assert.False(t, StatementMachine.CanTransition(StatementStatusCompleted, StatementStatusFailed))
	assert.False(t, StatementMachine.CanTransition(StatementStatusFailed, StatementStatusUploaded))
}
