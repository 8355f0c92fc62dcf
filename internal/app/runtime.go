// Package app hosts a supervisor for the lifetime of the process: it drives
// ticks, relays shutdown requests and restarts the supervisor after a fault.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/me2ds/wilson/internal/ticker"
	"github.com/me2ds/wilson/pkg/lifecycle"
	"github.com/me2ds/wilson/pkg/log"
	"github.com/me2ds/wilson/pkg/supervisor"
)

// ErrTooManyRestarts is returned by Run once the restart budget is spent.
var ErrTooManyRestarts = errors.New("app: too many restarts")

// Default restart policy values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
	DefaultTickInterval   = time.Second
)

// Config configures a Runtime.
type Config struct {
	Supervisor   supervisor.Config
	TickInterval time.Duration

	// MaxRestarts bounds how often a failed supervisor is recreated.
	// Zero disables restarts.
	MaxRestarts       int
	RestartBackoff    time.Duration
	RestartBackoffMax time.Duration
}

// Runtime owns one supervisor incarnation at a time.
type Runtime struct {
	cfg     Config
	factory supervisor.Factory
	logger  log.Logger
	emitter lifecycle.EventEmitter
	ticker  *ticker.Ticker
	started chan struct{}

	mu         sync.Mutex
	current    *supervisor.Supervisor
	shutdown   *supervisor.ShutdownRequest
	shutdownCh chan struct{}
	restarts   int
	result     supervisor.Result
	running    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Runtime) {
		r.logger = log.OrNoop(logger)
	}
}

// WithEventEmitter forwards the supervisor's state changes to emitter.
func WithEventEmitter(emitter lifecycle.EventEmitter) Option {
	return func(r *Runtime) {
		r.emitter = emitter
	}
}

// New creates a Runtime. The supervisor configuration is validated here so
// that configuration errors surface before Run.
func New(factory supervisor.Factory, cfg Config, opts ...Option) (*Runtime, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil factory", supervisor.ErrInvalidConfig)
	}
	cfg.Supervisor.SetDefaults()
	if err := cfg.Supervisor.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRestarts < 0 {
		return nil, fmt.Errorf("%w: negative max restarts", supervisor.ErrInvalidConfig)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultBackoffInitial
	}
	if cfg.RestartBackoffMax <= 0 {
		cfg.RestartBackoffMax = DefaultBackoffMax
	}

	r := &Runtime{
		cfg:        cfg,
		factory:    factory,
		logger:     log.NewNoopLogger(),
		started:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ticker = ticker.New(cfg.TickInterval, r.tick)
	return r, nil
}

// Run starts the ticker and supervises until the current supervisor stops
// for a reason that does not warrant a restart. Canceling ctx triggers a
// graceful shutdown with the configured stop timeout.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return supervisor.ErrAlreadyStarted
	}
	r.running = true
	r.mu.Unlock()

	tickCtx, stopTicks := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.ticker.Run(tickCtx)
	}()
	defer func() {
		stopTicks()
		wg.Wait()
	}()

	bo := lifecycle.NewBackoff(r.cfg.RestartBackoff, r.cfg.RestartBackoffMax)
	for {
		err := r.runOnce(ctx)
		if !restartable(err) || r.shutdownRequested() || ctx.Err() != nil {
			return err
		}

		r.mu.Lock()
		if r.restarts >= r.cfg.MaxRestarts {
			n := r.restarts
			r.mu.Unlock()
			r.logger.Error("supervisor failed, giving up", log.Int("restarts", n), log.Err(err))
			return fmt.Errorf("%w (%d): %w", ErrTooManyRestarts, n, err)
		}
		r.restarts++
		attempt := r.restarts
		r.mu.Unlock()

		delay := bo.Next()
		r.logger.Warn("supervisor failed, restarting",
			log.Err(err),
			log.Int("attempt", attempt),
			log.Duration("backoff", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-r.shutdownCh:
			t.Stop()
			return nil
		case <-t.C:
		}
		r.logger.Info("supervisor restarted", log.String("reason", err.Error()), log.Int("attempt", attempt))
	}
}

func (r *Runtime) runOnce(ctx context.Context) error {
	opts := []supervisor.Option{supervisor.WithLogger(r.logger)}
	if r.emitter != nil {
		opts = append(opts, supervisor.WithEventEmitter(r.emitter))
	}
	sup, err := supervisor.New(r.factory, r.cfg.Supervisor, opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = sup
	pending := r.shutdown
	r.mu.Unlock()
	r.markStarted()

	if pending != nil {
		sup.Shutdown(*pending)
	}
	err = sup.Run(ctx)

	r.mu.Lock()
	r.current = nil
	r.result = sup.Result()
	r.mu.Unlock()
	return err
}

// Shutdown asks the current supervisor to drain. Only the first request is
// honored by the restart policy; later ones are forwarded so the supervisor
// can report them.
func (r *Runtime) Shutdown(timeout time.Duration, reason string) {
	req := supervisor.ShutdownRequest{Timeout: timeout, Reason: reason}

	r.mu.Lock()
	if r.shutdown == nil {
		r.shutdown = &req
		close(r.shutdownCh)
	}
	cur := r.current
	r.mu.Unlock()

	if cur != nil {
		cur.Shutdown(req)
	}
}

// SetTickInterval changes the tick period of the running ticker.
func (r *Runtime) SetTickInterval(d time.Duration) {
	old := r.ticker.Interval()
	r.ticker.SetInterval(d)
	if now := r.ticker.Interval(); now != old {
		r.logger.Info("tick interval changed", log.Duration("from", old), log.Duration("to", now))
	}
}

// TickInterval returns the current tick period.
func (r *Runtime) TickInterval() time.Duration {
	return r.ticker.Interval()
}

// Restarts returns how many times the supervisor was recreated.
func (r *Runtime) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// Result returns the summary of the most recently stopped supervisor.
func (r *Runtime) Result() supervisor.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Started is closed once the first supervisor has been created.
func (r *Runtime) Started() <-chan struct{} {
	return r.started
}

func (r *Runtime) markStarted() {
	select {
	case <-r.started:
	default:
		close(r.started)
	}
}

func (r *Runtime) tick() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur != nil {
		cur.Tick()
	}
}

func (r *Runtime) shutdownRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown != nil
}

func restartable(err error) bool {
	return errors.Is(err, supervisor.ErrStartup) || errors.Is(err, supervisor.ErrPanic)
}
