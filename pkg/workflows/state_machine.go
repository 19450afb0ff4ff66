package workflows

import "sort"

// StateMachine enforces status transitions declared up front
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a new state machine with allowed transitions.
// A state mapped to an empty slice is terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	allowed := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		allowed[from] = append([]string(nil), to...)
	}
	return &StateMachine{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	out := append([]string(nil), allowed...)
	return out
}

// IsTerminal reports whether a known state has no outgoing edges
func (sm *StateMachine) IsTerminal(state string) bool {
	allowed, exists := sm.allowedTransitions[state]
	return exists && len(allowed) == 0
}

// States returns every declared state in lexical order
func (sm *StateMachine) States() []string {
	states := make([]string, 0, len(sm.allowedTransitions))
	for state := range sm.allowedTransitions {
		states = append(states, state)
	}
	sort.Strings(states)
	return states
}

// Sequence is a forward-only ordered progression (e.g. hearing phases)
type Sequence struct {
	steps []string
	index map[string]int
}

// NewSequence creates a sequence from ordered steps
func NewSequence(steps ...string) *Sequence {
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		index[step] = i
	}
	return &Sequence{steps: steps, index: index}
}

// Next returns the step after current, false when current is last or unknown
func (s *Sequence) Next(current string) (string, bool) {
	i, ok := s.index[current]
	if !ok || i+1 >= len(s.steps) {
		return "", false
	}
	return s.steps[i+1], true
}

// First returns the initial step
func (s *Sequence) First() string {
	if len(s.steps) == 0 {
		return ""
	}
	return s.steps[0]
}

// Position returns the zero-based position of a step, -1 if unknown
func (s *Sequence) Position(step string) int {
	i, ok := s.index[step]
	if !ok {
		return -1
	}
	return i
}
