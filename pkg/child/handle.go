package child

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/supervisor"
)

// Errors returned or reported by a Handle.
var (
	// ErrStopTimeout is reported when a runner ignores a stop request past its timeout.
	ErrStopTimeout = errors.New("child: stop timeout")

	// ErrMailboxFull is returned by Send when the inbox has no room.
	ErrMailboxFull = errors.New("child: mailbox full")

	// ErrStopped is returned by Send after the runner has returned.
	ErrStopped = errors.New("child: stopped")
)

// DefaultMailboxSize is the inbox capacity used when none is configured.
const DefaultMailboxSize = 64

// Option configures a Handle.
type Option func(*Handle)

// WithMailboxSize sets the inbox capacity.
func WithMailboxSize(n int) Option {
	return func(h *Handle) {
		if n > 0 {
			h.mailboxSize = n
		}
	}
}

// WithLogger sets the logger used for the child's lifecycle messages.
func WithLogger(logger log.Logger) Option {
	return func(h *Handle) {
		h.logger = log.OrNoop(logger)
	}
}

// Handle is a supervisor.ChildHandle backed by a goroutine.
type Handle struct {
	id          string
	name        string
	notify      supervisor.NotifyFunc
	logger      log.Logger
	mailboxSize int

	inbox  chan supervisor.Event
	cancel context.CancelCauseFunc
	exited chan struct{}

	once     sync.Once
	stopOnce sync.Once
}

var _ supervisor.ChildHandle = (*Handle)(nil)

// Spawn starts runner on a new goroutine and returns its handle.
// The runner's context is detached from ctx: only RequestStop ends it.
func Spawn(ctx context.Context, name string, runner Runner, notify supervisor.NotifyFunc, opts ...Option) *Handle {
	h := &Handle{
		id:          uuid.NewString(),
		name:        name,
		notify:      notify,
		logger:      log.NewNoopLogger(),
		mailboxSize: DefaultMailboxSize,
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = log.With(h.logger, log.String("child", name), log.String("id", h.id))
	h.inbox = make(chan supervisor.Event, h.mailboxSize)

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	h.cancel = cancel

	go h.run(runCtx, runner)
	return h
}

// ID returns the unique identifier of this incarnation.
func (h *Handle) ID() string { return h.id }

// Name returns the name the child was spawned under.
func (h *Handle) Name() string { return h.name }

// Exited is closed when the runner has returned.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Send delivers ev to the runner's inbox without blocking. Events are
// still accepted while a stop request is pending.
func (h *Handle) Send(ev supervisor.Event) error {
	select {
	case <-h.exited:
		return ErrStopped
	default:
	}
	select {
	case h.inbox <- ev:
		return nil
	default:
		return ErrMailboxFull
	}
}

// RequestStop cancels the runner with reason and returns immediately.
// If the runner has not returned after timeout, the child is reported as
// terminated with ErrStopTimeout. Only the first call has an effect.
func (h *Handle) RequestStop(timeout time.Duration, reason string) {
	h.stopOnce.Do(func() {
		h.logger.Debug("stop requested", log.Duration("timeout", timeout), log.String("reason", reason))
		h.cancel(StopRequest{Reason: reason})

		if timeout <= 0 {
			return
		}
		go h.enforce(timeout)
	})
}

func (h *Handle) enforce(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.exited:
	case <-t.C:
		h.logger.Warn("child did not stop in time, abandoning it", log.Duration("timeout", timeout))
		h.terminate(supervisor.Terminated{
			ChildID: h.id,
			Name:    h.name,
			Err:     ErrStopTimeout,
			Forced:  true,
		})
	}
}

func (h *Handle) run(ctx context.Context, runner Runner) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("child %s panicked: %v", h.name, r)
		}
		close(h.exited)
		h.cancel(nil)

		// A runner returning because it was asked to is a clean exit.
		if _, asked := StopReason(ctx); asked && isStopErr(err) {
			err = nil
		}
		if err != nil {
			h.logger.Error("child exited with error", log.Err(err))
		} else {
			h.logger.Debug("child exited")
		}
		h.terminate(supervisor.Terminated{ChildID: h.id, Name: h.name, Err: err})
	}()

	err = runner.Run(ctx, h.inbox)
}

func (h *Handle) terminate(t supervisor.Terminated) {
	h.once.Do(func() {
		if h.notify != nil {
			h.notify(t)
		}
	})
}

func isStopErr(err error) bool {
	var req StopRequest
	return errors.Is(err, context.Canceled) || errors.As(err, &req)
}
