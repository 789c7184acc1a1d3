package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransactions(t *testing.T) {
	raw := `[
		{"date": "2025-03-10", "amount": -12.5, "description": "COSTA COFFEE", "category": "Eating Out"},
		{"date": "2025-03-11", "amount": 2100, "description": "SALARY", "category": null}
	]`

	txs, err := decodeTransactions(raw)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "COSTA COFFEE", txs[0].Description)
	assert.Equal(t, "-12.5", txs[0].Amount.String())
	assert.Equal(t, "Eating Out", txs[0].Category)
	assert.Equal(t, "2025-03-10", txs[0].Date.Format("2006-01-02"))
	assert.Empty(t, txs[1].Category)
}

func TestDecodeTransactions_FencedOutput(t *testing.T) {
	raw := "```json\n[{\"date\": \"2025-03-10\", \"amount\": -1.00, \"description\": \"BUS\"}]\n```"

	txs, err := decodeTransactions(raw)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "BUS", txs[0].Description)
}

func TestDecodeTransactions_ProseAroundArray(t *testing.T) {
	raw := "Here are the transactions:\n[{\"date\": \"2025-03-10\", \"amount\": -1, \"description\": \"BUS\"}]\nLet me know if you need more."

	txs, err := decodeTransactions(raw)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDecodeTransactions_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "the dog ate the statement"},
		{"empty array", "[]"},
		{"bad date", `[{"date": "10/03/2025", "amount": -1, "description": "BUS"}]`},
		{"missing amount", `[{"date": "2025-03-10", "description": "BUS"}]`},
		{"missing description", `[{"date": "2025-03-10", "amount": -1, "description": "  "}]`},
		{"object instead of array", `{"date": "2025-03-10"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTransactions(tt.raw)
			assert.Error(t, err)
		})
	}
}
