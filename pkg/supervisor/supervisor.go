package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/me2ds/wilson/pkg/lifecycle"
	"github.com/me2ds/wilson/pkg/log"
)

// Supervisor owns a set of children, relays ticks to them and drives the
// shutdown state machine. Use New to create one and Run to drive it.
type Supervisor struct {
	cfg     Config
	factory Factory
	logger  log.Logger
	machine *lifecycle.Machine

	inbox      chan Event
	done       chan struct{}
	finishOnce sync.Once
	started    atomic.Bool

	tickCount atomic.Uint64

	// Owned by the event loop. mu lets other goroutines read snapshots.
	mu         sync.RWMutex
	children   map[string]ChildHandle
	stopped    []Terminated
	childErrs  *multierror.Error
	drain      *drain
	drainTimer *time.Timer
	runErr     error
	result     Result
}

// New creates a supervisor. Children are not created until Run is called.
func New(factory Factory, cfg Config, opts ...Option) (*Supervisor, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrInvalidConfig)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)

	return &Supervisor{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		machine:  lifecycle.NewMachine(logger, o.emitter),
		inbox:    make(chan Event, cfg.InboxSize),
		done:     make(chan struct{}),
		children: make(map[string]ChildHandle, len(cfg.Children)),
	}, nil
}

// Run creates the configured children and processes events until the
// supervisor stops. Canceling ctx while Running acts as a ShutdownRequest
// with Config.StopTimeout.
//
// Run returns nil after a complete drain, ErrDrainTimeout if the drain
// timeout fired, and an error wrapping ErrStartup or ErrPanic on a fault.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := s.startup(ctx); err != nil {
		s.runErr = err
		s.stopSelf("startup failed")
		return err
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			if s.machine.State() == lifecycle.StateRunning {
				s.safeHandle(ShutdownRequest{Timeout: s.cfg.StopTimeout, Reason: "context canceled"})
			}
		case ev := <-s.inbox:
			s.safeHandle(ev)
		}
		if s.machine.State().Terminal() {
			return s.runErr
		}
	}
}

// Tick enqueues a tick. It returns false if the supervisor has stopped.
func (s *Supervisor) Tick() bool {
	return s.post(Tick{})
}

// Shutdown enqueues a shutdown request. It returns false if the supervisor has stopped.
func (s *Supervisor) Shutdown(req ShutdownRequest) bool {
	return s.post(req)
}

// Done is closed once the supervisor has stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Supervisor) State() lifecycle.State {
	return s.machine.State()
}

// TickCount returns the number of ticks processed.
func (s *Supervisor) TickCount() uint64 {
	return s.tickCount.Load()
}

// Children returns the sorted names of the children currently owned.
func (s *Supervisor) Children() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childNamesLocked()
}

// Result returns the run summary. It is final once Done is closed.
func (s *Supervisor) Result() Result {
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.result
	default:
		return Result{State: s.machine.State(), TickCount: s.TickCount()}
	}
}

func (s *Supervisor) startup(ctx context.Context) error {
	s.tickCount.Store(0)
	s.logger.Info("supervisor initializing", log.Strings("children", s.cfg.Children))

	for _, name := range s.cfg.Children {
		c, err := s.create(ctx, name)
		if err != nil {
			s.abandonChildren("startup failed")
			return fmt.Errorf("%w: create child %q: %w", ErrStartup, name, err)
		}
		s.mu.Lock()
		s.children[c.ID()] = c
		s.mu.Unlock()
		s.logger.Debug("child created", log.String("child", name), log.String("id", c.ID()))
	}
	return nil
}

// create calls the factory, turning a panic into an error.
func (s *Supervisor) create(ctx context.Context, name string) (c ChildHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return s.factory.Create(ctx, name, s.notify)
}

// notify is handed to every child's transport.
func (s *Supervisor) notify(t Terminated) {
	if !s.enqueue(t) {
		s.logger.Debug("termination after stop",
			log.String("child", t.Name),
			log.String("id", t.ChildID),
		)
	}
}

// post enqueues an external event and reports a drop.
func (s *Supervisor) post(ev Event) bool {
	if s.enqueue(ev) {
		return true
	}
	s.unhandled(ev)
	return false
}

func (s *Supervisor) enqueue(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) safeHandle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling event",
				log.String("event", eventName(ev)),
				log.Any("panic", r),
			)
			s.runErr = fmt.Errorf("%w: %v", ErrPanic, r)
			s.abandonChildren("supervisor failed")
			s.stopSelf("panic")
		}
	}()
	s.handle(ev)
}

// handle dispatches on the current state, then on the event type.
func (s *Supervisor) handle(ev Event) {
	switch s.machine.State() {
	case lifecycle.StateRunning:
		s.handleRunning(ev)
	case lifecycle.StateDraining:
		s.handleDraining(ev)
	default:
		s.unhandled(ev)
	}
}

func (s *Supervisor) handleRunning(ev Event) {
	switch ev := ev.(type) {
	case Tick:
		s.onTick()
	case ShutdownRequest:
		s.onShutdown(ev)
	case Terminated:
		if s.removeChild(ev) {
			s.logger.Warn("child exited while running",
				log.String("child", ev.Name),
				log.String("id", ev.ChildID),
				log.Err(ev.Err),
			)
		}
	default:
		s.unhandled(ev)
	}
}

func (s *Supervisor) handleDraining(ev Event) {
	switch ev := ev.(type) {
	case Tick:
		s.onTick()
	case ShutdownRequest:
		s.logger.Warn("shutdown already in progress",
			log.String("reason", ev.Reason),
			log.Strings("pending", s.drain.pendingNames()),
		)
	case Terminated:
		s.onChildTerminated(ev)
	case drainExpired:
		s.onDrainExpired()
	default:
		s.unhandled(ev)
	}
}

func (s *Supervisor) unhandled(ev Event) {
	s.logger.Warn("unhandled event",
		log.String("event", eventName(ev)),
		log.Stringer("state", s.machine.State()),
	)
}

func (s *Supervisor) onTick() {
	s.tickCount.Add(1)
	for _, c := range s.children {
		if err := c.Send(Tick{}); err != nil {
			s.logger.Warn("tick not delivered",
				log.String("child", c.Name()),
				log.Err(err),
			)
		}
	}
}

func (s *Supervisor) onShutdown(req ShutdownRequest) {
	if req.Timeout <= 0 {
		req.Timeout = s.cfg.StopTimeout
	}
	if req.Reason == "" {
		req.Reason = "shutdown"
	}

	if len(s.children) == 0 {
		s.stopSelf("no children to stop")
		return
	}

	if err := s.machine.TransitionTo(lifecycle.StateDraining, req.Reason); err != nil {
		s.logger.Error("cannot start draining", log.Err(err))
		return
	}
	s.drain = startDrain(s.children, req, s.cfg.MatchMode, s.logger)

	if s.cfg.DrainTimeout > 0 {
		s.drainTimer = time.AfterFunc(s.cfg.DrainTimeout, func() {
			s.enqueue(drainExpired{})
		})
	}
}

func (s *Supervisor) onChildTerminated(t Terminated) {
	s.removeChild(t)

	counted, complete := s.drain.observe(t)
	if counted {
		s.logger.Info("child stopped",
			log.String("child", t.Name),
			log.String("id", t.ChildID),
			log.Bool("forced", t.Forced),
			log.Err(t.Err),
			log.Int("observed", s.drain.observed),
			log.Int("expected", s.drain.expected),
		)
	} else {
		s.logger.Debug("ignoring termination of unexpected child",
			log.String("child", t.Name),
			log.String("id", t.ChildID),
		)
	}

	if complete {
		s.logger.Info("drain complete",
			log.String("reason", s.drain.request.Reason),
			log.Duration("elapsed", time.Since(s.drain.started)),
		)
		s.stopSelf("all children stopped")
	}
}

func (s *Supervisor) onDrainExpired() {
	s.logger.Warn("drain timeout, stopping with children still running",
		log.Duration("drain_timeout", s.cfg.DrainTimeout),
		log.Strings("pending", s.drain.pendingNames()),
	)
	s.runErr = ErrDrainTimeout
	s.stopSelf("drain timeout")
}

// removeChild drops a terminated child and records its exit.
// It reports false for children that are not (or no longer) owned.
func (s *Supervisor) removeChild(t Terminated) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.children[t.ChildID]; !ok {
		return false
	}
	delete(s.children, t.ChildID)
	s.stopped = append(s.stopped, t)
	if t.Err != nil {
		s.childErrs = multierror.Append(s.childErrs, fmt.Errorf("child %s: %w", t.Name, t.Err))
	}
	return true
}

// abandonChildren asks every child to stop without waiting for them.
func (s *Supervisor) abandonChildren(reason string) {
	for _, c := range s.children {
		c.RequestStop(s.cfg.StopTimeout, reason)
	}
}

// stopSelf moves to Stopped and publishes the result. The result is
// published even if the machine is already Stopped, which happens when a
// state-change callback panicked during the transition.
func (s *Supervisor) stopSelf(reason string) {
	if err := s.machine.TransitionTo(lifecycle.StateStopped, reason); err != nil && !s.machine.State().Terminal() {
		return
	}
	s.finishOnce.Do(func() { s.finish(reason) })
}

func (s *Supervisor) finish(reason string) {
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}

	s.mu.Lock()
	s.result = Result{
		State:       lifecycle.StateStopped,
		TickCount:   s.tickCount.Load(),
		Stopped:     append([]Terminated(nil), s.stopped...),
		Pending:     s.childNamesLocked(),
		ChildErrors: s.childErrs.ErrorOrNil(),
		Err:         s.runErr,
	}
	s.mu.Unlock()

	s.logger.Info("supervisor stopped",
		log.String("reason", reason),
		log.Uint64("ticks", s.result.TickCount),
		log.Int("stopped_children", len(s.result.Stopped)),
	)
	close(s.done)
}

func (s *Supervisor) childNamesLocked() []string {
	names := make([]string, 0, len(s.children))
	for _, c := range s.children {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}
