package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/me2ds/wilson/pkg/log"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Machine is a lifecycle state machine. State may be read from any goroutine;
// transitions are expected to come from the owner's event loop.
type Machine struct {
	mu           sync.RWMutex
	state        State
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewMachine creates a machine in StateRunning. emitter may be nil.
func NewMachine(logger log.Logger, emitter EventEmitter) *Machine {
	return &Machine{
		state:        StateRunning,
		logger:       log.OrNoop(logger),
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CanTransition reports whether from -> to is a valid transition.
func CanTransition(from, to State) bool {
	switch from {
	case StateRunning:
		return to == StateDraining || to == StateStopped
	case StateDraining:
		return to == StateStopped
	default:
		return false
	}
}

// TransitionTo attempts to transition to a new state.
// Returns an error wrapping ErrInvalidTransition if the transition is not valid.
func (m *Machine) TransitionTo(newState State, reason string) error {
	m.mu.Lock()
	oldState := m.state
	if !CanTransition(oldState, newState) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
	}
	m.state = newState
	m.mu.Unlock()

	// Emit event outside of lock
	if m.eventEmitter != nil {
		m.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	m.logger.Info("state transition",
		log.Stringer("from", oldState),
		log.Stringer("to", newState),
		log.String("reason", reason),
	)

	return nil
}
