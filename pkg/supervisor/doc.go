// Package supervisor implements a parent task that owns a set of child
// tasks, forwards periodic ticks to them and shuts them down gracefully.
//
// A Supervisor processes its inbox strictly sequentially on the goroutine
// that calls Run. On a ShutdownRequest it asks every child to stop with the
// request's timeout and enters the Draining state. It stops itself once
// every expected child has reported termination, or immediately when it has
// no children at all.
//
// # Usage
//
//	sup, err := supervisor.New(registry, supervisor.Config{
//	    Children:    []string{"host-manager"},
//	    StopTimeout: 5 * time.Second,
//	}, supervisor.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	go func() {
//	    for range ticker.C {
//	        sup.Tick()
//	    }
//	}()
//
//	// elsewhere
//	sup.Shutdown(supervisor.ShutdownRequest{Timeout: 5 * time.Second})
//
//	err = sup.Run(ctx) // returns once Stopped
//
// # Draining
//
// A child that never terminates keeps the supervisor Draining unless
// Config.DrainTimeout is set. The per-child stop timeout is enforced by the
// child transport (see package child), not by the supervisor.
package supervisor
