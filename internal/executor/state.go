package executor

import (
	"fmt"
	"sync"
	"time"
)

// State is the executor lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRamping
	StateSteady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRamping:
		return "ramping"
	case StateSteady:
		return "steady"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var allowedTransitions = map[State][]State{
	StateStarting: {StateRamping, StateSteady, StateDraining},
	StateRamping:  {StateSteady, StateDraining},
	StateSteady:   {StateRamping, StateDraining},
	StateDraining: {StateStopped},
}

// Transition records when the executor entered a state.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// stateMachine guards executor transitions. Moving to the current state is
// a no-op; anything not in allowedTransitions fails with ErrInvalidState.
type stateMachine struct {
	mu      sync.RWMutex
	current State
	history []Transition
	stopped chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StateStarting,
		stopped: make(chan struct{}),
	}
}

func (m *stateMachine) state() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *stateMachine) transition(to State, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if from == to && to != StateStopped {
		return nil
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}

	m.current = to
	m.history = append(m.history, Transition{From: from, To: to, Timestamp: now})
	if to == StateStopped {
		close(m.stopped)
	}
	return nil
}

func (m *stateMachine) transitions() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

func canTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
