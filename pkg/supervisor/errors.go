package supervisor

import "errors"

// Errors returned by the supervisor. Check with errors.Is.
var (
	// ErrStartup wraps a failure to create a child during startup.
	ErrStartup = errors.New("supervisor: startup failed")

	// ErrDrainTimeout is returned by Run when Config.DrainTimeout elapsed
	// before every child reported termination.
	ErrDrainTimeout = errors.New("supervisor: drain timeout")

	// ErrPanic wraps a panic recovered while handling an event.
	ErrPanic = errors.New("supervisor: panic while handling event")

	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("supervisor: invalid configuration")

	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("supervisor: already started")
)
