// Package statemachine provides a generic transition-table validator shared
// by the CSV import and statement parsing pipelines. The table passed to New
// is the single source of truth for which status changes are legal; callers
// never write a status field directly.
package statemachine

import (
	"fmt"
)

// InvalidTransitionError is returned when a requested transition is not in
// the edge table. The caller's state is left untouched.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Machine validates transitions for one family of states. It is immutable
// after construction and safe for concurrent use.
type Machine[S ~string] struct {
	edges map[S]map[S]bool
}

// New builds a machine from an adjacency list. States absent from the table,
// or present only as targets, are terminal: no transition out of them is
// ever legal.
func New[S ~string](table map[S][]S) *Machine[S] {
	edges := make(map[S]map[S]bool, len(table))
	for from, tos := range table {
		set := make(map[S]bool, len(tos))
		for _, to := range tos {
			set[to] = true
		}
		edges[from] = set
	}
	return &Machine[S]{edges: edges}
}

// CanTransition reports whether from → to is in the edge table. Re-entrant
// transitions to the same state are never legal.
func (m *Machine[S]) CanTransition(from, to S) bool {
	if from == to {
		return false
	}
	return m.edges[from][to]
}

// Transition returns the new state if from → to is legal, or an
// *InvalidTransitionError if it is not.
func (m *Machine[S]) Transition(from, to S) (S, error) {
	if !m.CanTransition(from, to) {
		return from, &InvalidTransitionError{From: string(from), To: string(to)}
	}
	return to, nil
}

// Terminal reports whether no transition out of s is legal.
func (m *Machine[S]) Terminal(s S) bool {
	return len(m.edges[s]) == 0
}
