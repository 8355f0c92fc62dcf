package child

import (
	"context"
	"errors"

	"github.com/me2ds/wilson/pkg/supervisor"
)

// Runner is the body of a child task.
type Runner interface {
	// Run processes events from inbox until ctx is canceled.
	Run(ctx context.Context, inbox <-chan supervisor.Event) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inbox <-chan supervisor.Event) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, inbox <-chan supervisor.Event) error {
	return f(ctx, inbox)
}

// StopRequest is the cancellation cause seen by a runner that was asked to stop.
type StopRequest struct {
	Reason string
}

func (s StopRequest) Error() string {
	return "stop requested: " + s.Reason
}

// StopReason returns the reason a runner's context was canceled by
// RequestStop, and false if it was canceled for another reason or not at all.
func StopReason(ctx context.Context) (string, bool) {
	var req StopRequest
	if errors.As(context.Cause(ctx), &req) {
		return req.Reason, true
	}
	return "", false
}
