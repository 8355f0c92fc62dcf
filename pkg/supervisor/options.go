package supervisor

import (
	"github.com/me2ds/wilson/pkg/lifecycle"
	"github.com/me2ds/wilson/pkg/log"
)

// Option configures optional behavior of a Supervisor.
type Option func(*options)

type options struct {
	logger  log.Logger
	emitter lifecycle.EventEmitter
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventEmitter registers a callback for lifecycle state changes.
// It is called synchronously from the event loop.
func WithEventEmitter(emitter lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.emitter = emitter
	}
}
