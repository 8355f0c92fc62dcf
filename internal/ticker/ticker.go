// Package ticker drives periodic callbacks with an interval that can be
// changed while running.
package ticker

import (
	"context"
	"sync"
	"time"
)

// Ticker calls fn once per interval until its context is canceled.
type Ticker struct {
	fn func()

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

// New creates a Ticker. A non-positive interval falls back to one second.
func New(interval time.Duration, fn func()) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		fn:       fn,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// Interval returns the current interval.
func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the interval. The running loop picks it up
// immediately. Non-positive values are ignored.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	changed := t.interval != d
	t.interval = d
	t.mu.Unlock()

	if !changed {
		return
	}
	select {
	case t.reset <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	tk := time.NewTicker(t.Interval())
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.reset:
			tk.Reset(t.Interval())
		case <-tk.C:
			t.fn()
		}
	}
}
