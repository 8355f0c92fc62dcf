package supervisor

import "github.com/me2ds/wilson/pkg/lifecycle"

// Result summarizes a supervisor run.
type Result struct {
	State     lifecycle.State
	TickCount uint64

	// Stopped lists the termination notifications of children that were
	// removed from the supervisor, in arrival order.
	Stopped []Terminated

	// Pending names the children still running when the supervisor stopped.
	Pending []string

	// ChildErrors aggregates the exit errors of stopped children.
	ChildErrors error

	// Err is what Run returned.
	Err error
}
