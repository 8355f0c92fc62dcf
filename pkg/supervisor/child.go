package supervisor

import (
	"context"
	"time"
)

// ChildHandle is the supervisor's reference to a running child.
type ChildHandle interface {
	// ID uniquely identifies this incarnation of the child.
	ID() string

	// Name is the name the child was created under.
	Name() string

	// Send delivers an event to the child without blocking.
	Send(ev Event) error

	// RequestStop asks the child to stop within timeout. It must not block.
	// The child's transport delivers exactly one Terminated notification
	// once the child has exited or has been abandoned after timeout.
	RequestStop(timeout time.Duration, reason string)
}

// NotifyFunc receives a child's termination notification.
type NotifyFunc func(Terminated)

// Factory creates children by name.
type Factory interface {
	Create(ctx context.Context, name string, notify NotifyFunc) (ChildHandle, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, name string, notify NotifyFunc) (ChildHandle, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context, name string, notify NotifyFunc) (ChildHandle, error) {
	return f(ctx, name, notify)
}
