// Package log provides the structured logging abstraction used by the
// supervisor, its children and the runtime host.
//
// Components never reach for a global logger. A Logger is passed in at
// construction time and defaults to the no-op logger when none is given.
//
// # Usage
//
// Wrap a zerolog logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Attach fields that should appear on every line of a component:
//
//	childLog := log.With(logger, log.String("child", "host-manager"))
//
// Or discard everything in tests:
//
//	logger := log.NewNoopLogger()
package log
