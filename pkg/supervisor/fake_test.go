package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/me2ds/wilson/pkg/lifecycle"
)

// fakeChild is a ChildHandle whose termination is driven by the test.
type fakeChild struct {
	id     string
	name   string
	notify NotifyFunc

	mu       sync.Mutex
	sent     []Event
	stops    []stopCall
	sendErr  error
	panics   bool
	stopHook func(*fakeChild)
}

type stopCall struct {
	timeout time.Duration
	reason  string
}

func (c *fakeChild) ID() string   { return c.id }
func (c *fakeChild) Name() string { return c.name }

func (c *fakeChild) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("send exploded")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeChild) RequestStop(timeout time.Duration, reason string) {
	c.mu.Lock()
	c.stops = append(c.stops, stopCall{timeout, reason})
	hook := c.stopHook
	c.mu.Unlock()
	if hook != nil {
		go hook(c)
	}
}

func (c *fakeChild) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChild) Stops() []stopCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stopCall(nil), c.stops...)
}

// terminate delivers this child's termination notification.
func (c *fakeChild) terminate(err error) {
	c.notify(Terminated{ChildID: c.id, Name: c.name, Err: err})
}

func (c *fakeChild) terminated(err error) Terminated {
	return Terminated{ChildID: c.id, Name: c.name, Err: err}
}

// stopOnRequest makes a child terminate as soon as it is asked to stop.
func stopOnRequest(c *fakeChild) { c.terminate(nil) }

// fakeFactory creates fakeChildren and remembers them by name.
type fakeFactory struct {
	mu       sync.Mutex
	children map[string]*fakeChild
	failOn   string
	panicOn  string
	stopHook func(*fakeChild)
	seq      int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{children: map[string]*fakeChild{}}
}

var errCreate = errors.New("constructor failed")

func (f *fakeFactory) Create(_ context.Context, name string, notify NotifyFunc) (ChildHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return nil, errCreate
	}
	if name == f.panicOn {
		panic("constructor exploded")
	}
	f.seq++
	c := &fakeChild{
		id:       fmt.Sprintf("%s-%d", name, f.seq),
		name:     name,
		notify:   notify,
		stopHook: f.stopHook,
	}
	f.children[name] = c
	return c, nil
}

func (f *fakeFactory) child(name string) *fakeChild {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[name]
}

// stopCount is nil-safe for children that have not been created yet.
func (f *fakeFactory) stopCount(name string) int {
	c := f.child(name)
	if c == nil {
		return 0
	}
	return len(c.Stops())
}

// recordingEmitter collects lifecycle transitions.
type recordingEmitter struct {
	mu    sync.Mutex
	trail []string
}

func (r *recordingEmitter) OnStateChange(previous, current lifecycle.State, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trail = append(r.trail, previous.String()+"->"+current.String())
}

func (r *recordingEmitter) Trail() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trail...)
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("child-%d", i)
	}
	return out
}
