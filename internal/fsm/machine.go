package fsm

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TerminalStateViolation reports an attempted transition out of an absorbing state.
type TerminalStateViolation struct {
	From State
	To   State
}

func (e *TerminalStateViolation) Error() string {
	return fmt.Sprintf("fsm: terminal state %s cannot transition to %s", e.From, e.To)
}

// TransitionError reports a transition not present in the table.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("fsm: transition %s -> %s is not allowed", e.From, e.To)
}

// Transition is one recorded step of an execution.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Machine tracks one execution through the pipeline. It is owned by a single
// goroutine and is not safe for concurrent use.
type Machine struct {
	reviewID string
	current  State
	history  []Transition
	visited  map[State]bool
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a machine positioned at RECEIVED with an empty history.
func New(reviewID string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		reviewID: reviewID,
		current:  StateReceived,
		visited:  map[State]bool{StateReceived: true},
		logger:   logger.Named("fsm"),
		now:      time.Now,
	}
}

// Current returns the state the machine sits in.
func (m *Machine) Current() State { return m.current }

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	return append([]Transition(nil), m.history...)
}

// VisitedStates returns the set of states the machine has occupied.
func (m *Machine) VisitedStates() map[State]bool {
	out := make(map[State]bool, len(m.visited))
	for s := range m.visited {
		out[s] = true
	}
	return out
}

// CanTransition reports whether the table allows current -> to.
func (m *Machine) CanTransition(to State) bool {
	for _, s := range transitions[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the named state and appends a history
// entry. Moving out of a terminal state is a TerminalStateViolation; any
// other disallowed move is a TransitionError.
func (m *Machine) Transition(to State, reason string) error {
	if IsTerminalState(m.current) {
		return &TerminalStateViolation{From: m.current, To: to}
	}
	if !m.CanTransition(to) {
		return &TransitionError{From: m.current, To: to}
	}
	entry := Transition{From: m.current, To: to, At: m.now().UTC(), Reason: reason}
	m.history = append(m.history, entry)
	m.current = to
	m.visited[to] = true
	m.logger.Debug("state transition",
		zap.String("review_id", m.reviewID),
		zap.String("from", string(entry.From)),
		zap.String("to", string(entry.To)),
		zap.String("reason", reason))
	return nil
}

// SafeTransition is the non-throwing variant: a disallowed move is logged and
// reported as false, the machine stays where it is.
func (m *Machine) SafeTransition(to State, reason string) bool {
	if err := m.Transition(to, reason); err != nil {
		m.logger.Warn("transition rejected",
			zap.String("review_id", m.reviewID),
			zap.String("from", string(m.current)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false
	}
	return true
}

// RequireState returns an error unless the machine is in one of the given states.
func (m *Machine) RequireState(states ...State) error {
	for _, s := range states {
		if m.current == s {
			return nil
		}
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return fmt.Errorf("fsm: expected state in {%s}, currently %s", strings.Join(names, ", "), m.current)
}

// IsTerminal reports whether the machine reached an absorbing state.
func (m *Machine) IsTerminal() bool {
	return IsTerminalState(m.current)
}

// FinalState returns the terminal state, if one was reached.
func (m *Machine) FinalState() (State, bool) {
	if m.IsTerminal() {
		return m.current, true
	}
	return "", false
}
