package supervisor

import "time"

// Event is a message processed by the supervisor's event loop.
// The set of events is closed: only the types in this package implement it.
type Event interface {
	isEvent()
}

// Tick is the periodic heartbeat forwarded to every child.
type Tick struct{}

// ShutdownRequest asks the supervisor to stop all children and then itself.
type ShutdownRequest struct {
	// Timeout is the grace period given to each child.
	Timeout time.Duration

	// Reason is passed to every child as the stop reason.
	Reason string
}

// Terminated reports that a child has fully stopped.
type Terminated struct {
	ChildID string
	Name    string

	// Err is the error the child exited with, if any.
	Err error

	// Forced is set when the child did not stop within its timeout
	// and was abandoned by its transport.
	Forced bool
}

// drainExpired fires when Config.DrainTimeout elapses while draining.
type drainExpired struct{}

func (Tick) isEvent()            {}
func (ShutdownRequest) isEvent() {}
func (Terminated) isEvent()      {}
func (drainExpired) isEvent()    {}

func eventName(ev Event) string {
	switch ev.(type) {
	case Tick:
		return "Tick"
	case ShutdownRequest:
		return "ShutdownRequest"
	case Terminated:
		return "Terminated"
	case drainExpired:
		return "DrainExpired"
	default:
		return "Unknown"
	}
}
