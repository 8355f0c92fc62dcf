// Package child runs a supervisor child on its own goroutine.
//
// A Handle owns one Runner. The runner receives forwarded events on its
// inbox and must return once its context is canceled. RequestStop cancels
// that context and, if the runner is still running when the timeout
// elapses, gives up on it and reports a forced termination. Go cannot kill
// a goroutine, so an abandoned runner keeps running until it returns on
// its own; its eventual result is discarded.
//
// Every Handle delivers exactly one supervisor.Terminated notification.
package child
