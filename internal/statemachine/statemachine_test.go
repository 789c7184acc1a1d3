package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState string

const (
	stateDraft  testState = "DRAFT"
	stateActive testState = "ACTIVE"
	stateDone   testState = "DONE"
	stateDead   testState = "DEAD"
)

func testMachine() *Machine[testState] {
	return New(map[testState][]testState{
		stateDraft:  {stateActive},
		stateActive: {stateDone, stateDead},
	})
}

func TestTransition_Legal(t *testing.T) {
	m := testMachine()

	got, err := m.Transition(stateDraft, stateActive)
	require.NoError(t, err)
	assert.Equal(t, stateActive, got)

	got, err = m.Transition(stateActive, stateDead)
	require.NoError(t, err)
	assert.Equal(t, stateDead, got)
}

func TestTransition_EveryEdgeNotInTableFails(t *testing.T) {
	m := testMachine()
	all := []testState{stateDraft, stateActive, stateDone, stateDead}
	table := map[testState]map[testState]bool{
		stateDraft:  {stateActive: true},
		stateActive: {stateDone: true, stateDead: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := table[from][to] && from != to
			assert.Equal(t, want, m.CanTransition(from, to), "%s -> %s", from, to)

			got, err := m.Transition(from, to)
			if want {
				assert.NoError(t, err)
				continue
			}
			require.Error(t, err)
			// The returned state must be unchanged on failure.
			assert.Equal(t, from, got)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, string(from), ite.From)
			assert.Equal(t, string(to), ite.To)
		}
	}
}

func TestTransition_NoSelfLoops(t *testing.T) {
	m := New(map[testState][]testState{
		// Even if the table claims a self-loop, it is rejected.
		stateActive: {stateActive, stateDone},
	})

	assert.False(t, m.CanTransition(stateActive, stateActive))
	_, err := m.Transition(stateActive, stateActive)
	assert.Error(t, err)
}

func TestTerminalStatesAreSinks(t *testing.T) {
	m := testMachine()

	assert.True(t, m.Terminal(stateDone))
	assert.True(t, m.Terminal(stateDead))
	assert.False(t, m.Terminal(stateDraft))
	assert.False(t, m.Terminal(stateActive))

	for _, to := range []testState{stateDraft, stateActive, stateDone, stateDead} {
		assert.False(t, m.CanTransition(stateDone, to))
		assert.False(t, m.CanTransition(stateDead, to))
	}
}
