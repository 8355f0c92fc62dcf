// Package lifecycle provides the supervisor's lifecycle state machine.
//
// A supervisor starts Running, enters Draining once a shutdown request
// arrives while it still has children, and ends Stopped. Stopped is
// terminal.
//
// # Usage
//
//	m := lifecycle.NewMachine(logger, emitter)
//
//	if err := m.TransitionTo(lifecycle.StateDraining, "shutdown requested"); err != nil {
//	    return err
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Running -> Draining
//   - Running -> Stopped (no children to wait for)
//   - Draining -> Stopped
package lifecycle
