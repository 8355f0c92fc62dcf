package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/me2ds/wilson/pkg/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newStarted builds a supervisor and runs startup without the event loop,
// so tests can feed events to handle one at a time.
func newStarted(t *testing.T, f *fakeFactory, cfg Config, opts ...Option) *Supervisor {
	t.Helper()
	s, err := New(f, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.startup(context.Background()))
	return s
}

func runAsync(s *Supervisor, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
		return nil
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
		cfg     Config
	}{
		{"nil factory", nil, Config{}},
		{"empty child name", newFakeFactory(), Config{Children: []string{" "}}},
		{"duplicate child name", newFakeFactory(), Config{Children: []string{"a", "a"}}},
		{"negative stop timeout", newFakeFactory(), Config{StopTimeout: -time.Second}},
		{"negative drain timeout", newFakeFactory(), Config{DrainTimeout: -time.Second}},
		{"negative inbox", newFakeFactory(), Config{InboxSize: -1}},
		{"unknown match mode", newFakeFactory(), Config{MatchMode: MatchMode(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.factory, tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(newFakeFactory(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStopTimeout, s.cfg.StopTimeout)
	assert.Equal(t, DefaultInboxSize, cap(s.inbox))
	assert.Equal(t, lifecycle.StateRunning, s.State())
}

func TestMatchMode(t *testing.T) {
	for _, m := range []MatchMode{MatchIdentity, MatchCount} {
		parsed, err := ParseMatchMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	m, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchIdentity, m)

	_, err = ParseMatchMode("fuzzy")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "unknown", MatchMode(9).String())
}

func TestTick_CountsAndForwardsToEveryChild(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(3)})

	for i := 1; i <= 10; i++ {
		s.handle(Tick{})
		assert.EqualValues(t, i, s.TickCount())
		assert.Len(t, s.Children(), 3, "ticking must not change the child set")
	}
	for _, name := range names(3) {
		assert.Equal(t, 10, f.child(name).Sent(), name)
	}
}

func TestTick_SendErrorIsNotFatal(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(2)})
	f.child("child-0").sendErr = errors.New("mailbox full")

	s.handle(Tick{})

	assert.EqualValues(t, 1, s.TickCount())
	assert.Equal(t, 0, f.child("child-0").Sent())
	assert.Equal(t, 1, f.child("child-1").Sent())
	assert.Equal(t, lifecycle.StateRunning, s.State())
}

// One child, one stop request, one termination.
func TestShutdown_SingleChild(t *testing.T) {
	f := newFakeFactory()
	emitter := &recordingEmitter{}
	s := newStarted(t, f, Config{Children: []string{"host-manager"}}, WithEventEmitter(emitter))
	child := f.child("host-manager")

	s.handle(ShutdownRequest{Timeout: 5 * time.Second})
	assert.Equal(t, lifecycle.StateDraining, s.State())
	assert.Equal(t, []stopCall{{5 * time.Second, "shutdown"}}, child.Stops())
	assert.False(t, isClosed(s.Done()))

	s.handle(child.terminated(nil))
	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.True(t, isClosed(s.Done()))
	assert.Equal(t, []string{"Running->Draining", "Draining->Stopped"}, emitter.Trail())

	res := s.Result()
	assert.Equal(t, lifecycle.StateStopped, res.State)
	assert.Len(t, res.Stopped, 1)
	assert.Empty(t, res.Pending)
	assert.NoError(t, res.Err)
	assert.NoError(t, res.ChildErrors)
}

// No children: straight to Stopped without a single stop request.
func TestShutdown_NoChildren(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newStarted(t, newFakeFactory(), Config{}, WithEventEmitter(emitter))

	s.handle(ShutdownRequest{Timeout: time.Second})

	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.True(t, isClosed(s.Done()))
	assert.Equal(t, []string{"Running->Stopped"}, emitter.Trail())
}

func TestShutdown_AllChildrenAlreadyExited(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(2)})
	c0, c1 := f.child("child-0"), f.child("child-1")

	s.handle(c0.terminated(nil))
	s.handle(c1.terminated(errors.New("crashed")))
	assert.Empty(t, s.Children())
	assert.Equal(t, lifecycle.StateRunning, s.State())

	s.handle(ShutdownRequest{})

	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.Empty(t, c0.Stops())
	assert.Empty(t, c1.Stops())
	assert.ErrorContains(t, s.Result().ChildErrors, "crashed")
}

// Missing terminations keep the supervisor draining.
func TestShutdown_StallsWithoutAllTerminations(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(3)})

	s.handle(ShutdownRequest{Timeout: time.Second})
	s.handle(f.child("child-0").terminated(nil))
	s.handle(f.child("child-2").terminated(nil))

	assert.Equal(t, lifecycle.StateDraining, s.State())
	assert.Equal(t, []string{"child-1"}, s.Children())
	assert.False(t, isClosed(s.Done()))
}

func TestRun_StallsWithoutAllTerminations(t *testing.T) {
	f := newFakeFactory()
	s, err := New(f, Config{Children: names(3)})
	require.NoError(t, err)
	errCh := runAsync(s, context.Background())

	require.True(t, s.Shutdown(ShutdownRequest{Timeout: time.Second}))
	require.Eventually(t, func() bool { return f.stopCount("child-2") == 1 }, time.Second, time.Millisecond)
	f.child("child-0").terminate(nil)
	f.child("child-1").terminate(nil)

	assert.Never(t, func() bool { return isClosed(s.Done()) }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, lifecycle.StateDraining, s.State())

	f.child("child-2").terminate(nil)
	assert.NoError(t, waitRun(t, errCh))
}

// Ticks keep flowing to the children that have not stopped yet.
func TestTick_WhileDraining(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(3)})
	c0, c1, c2 := f.child("child-0"), f.child("child-1"), f.child("child-2")

	s.handle(ShutdownRequest{Timeout: time.Second})
	s.handle(Tick{})
	s.handle(c1.terminated(nil))
	s.handle(Tick{})
	s.handle(c0.terminated(nil))
	s.handle(Tick{})

	assert.Equal(t, 2, c0.Sent())
	assert.Equal(t, 1, c1.Sent())
	assert.Equal(t, 3, c2.Sent())
	assert.EqualValues(t, 3, s.TickCount())
	assert.Equal(t, lifecycle.StateDraining, s.State())

	s.handle(c2.terminated(nil))
	assert.Equal(t, lifecycle.StateStopped, s.State())
}

func TestShutdown_OrderIndependence(t *testing.T) {
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, mode := range []MatchMode{MatchIdentity, MatchCount} {
		for _, order := range orders {
			f := newFakeFactory()
			emitter := &recordingEmitter{}
			s := newStarted(t, f, Config{Children: names(3), MatchMode: mode}, WithEventEmitter(emitter))

			s.handle(ShutdownRequest{})
			for i, idx := range order {
				assert.Equal(t, lifecycle.StateDraining, s.State(), "before termination %d of %v", i, order)
				s.handle(f.child(names(3)[idx]).terminated(nil))
			}

			assert.Equal(t, lifecycle.StateStopped, s.State(), "%s %v", mode, order)
			assert.Equal(t, []string{"Running->Draining", "Draining->Stopped"}, emitter.Trail())
		}
	}
}

func TestShutdown_DuplicateNotifications(t *testing.T) {
	t.Run("identity mode ignores duplicates", func(t *testing.T) {
		f := newFakeFactory()
		s := newStarted(t, f, Config{Children: names(2)})
		c0 := f.child("child-0")

		s.handle(ShutdownRequest{})
		s.handle(c0.terminated(nil))
		s.handle(c0.terminated(nil))
		s.handle(c0.terminated(nil))

		assert.Equal(t, lifecycle.StateDraining, s.State())
		assert.Equal(t, 1, s.drain.observed)

		s.handle(f.child("child-1").terminated(nil))
		assert.Equal(t, lifecycle.StateStopped, s.State())
	})

	t.Run("count mode stops once on over-delivery", func(t *testing.T) {
		f := newFakeFactory()
		emitter := &recordingEmitter{}
		s := newStarted(t, f, Config{Children: names(2), MatchMode: MatchCount}, WithEventEmitter(emitter))
		c0 := f.child("child-0")

		s.handle(ShutdownRequest{})
		s.handle(c0.terminated(nil))
		s.handle(c0.terminated(nil))
		assert.Equal(t, lifecycle.StateStopped, s.State())

		// Late notifications after Stopped are dropped, not errors.
		s.handle(c0.terminated(nil))
		s.handle(f.child("child-1").terminated(nil))
		assert.Equal(t, []string{"Running->Draining", "Draining->Stopped"}, emitter.Trail())
		assert.Equal(t, []string{"child-1"}, s.Result().Pending)
	})
}

func TestShutdown_UnknownChildTermination(t *testing.T) {
	stranger := Terminated{ChildID: "late-1", Name: "late"}

	t.Run("identity", func(t *testing.T) {
		f := newFakeFactory()
		s := newStarted(t, f, Config{Children: names(1)})
		s.handle(ShutdownRequest{})
		s.handle(stranger)
		assert.Equal(t, lifecycle.StateDraining, s.State())
	})

	t.Run("count", func(t *testing.T) {
		f := newFakeFactory()
		s := newStarted(t, f, Config{Children: names(1), MatchMode: MatchCount})
		s.handle(ShutdownRequest{})
		s.handle(stranger)
		assert.Equal(t, lifecycle.StateStopped, s.State())
	})
}

func TestShutdown_SecondRequestWhileDraining(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(2)})

	s.handle(ShutdownRequest{Timeout: time.Second, Reason: "first"})
	s.handle(ShutdownRequest{Timeout: time.Minute, Reason: "second"})

	assert.Equal(t, lifecycle.StateDraining, s.State())
	assert.Equal(t, []stopCall{{time.Second, "first"}}, f.child("child-0").Stops())
	assert.Equal(t, []stopCall{{time.Second, "first"}}, f.child("child-1").Stops())
}

func TestShutdown_DefaultTimeoutAndReason(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(1), StopTimeout: 3 * time.Second})

	s.handle(ShutdownRequest{})

	assert.Equal(t, []stopCall{{3 * time.Second, "shutdown"}}, f.child("child-0").Stops())
}

func TestEventsAfterStopAreDropped(t *testing.T) {
	s := newStarted(t, newFakeFactory(), Config{})
	s.handle(ShutdownRequest{})
	require.True(t, isClosed(s.Done()))

	assert.False(t, s.Tick())
	assert.False(t, s.Shutdown(ShutdownRequest{}))
	s.handle(Tick{})
	assert.EqualValues(t, 0, s.TickCount())
}

func TestRun_TicksThenShutdown(t *testing.T) {
	f := newFakeFactory()
	f.stopHook = stopOnRequest
	s, err := New(f, Config{Children: names(4)})
	require.NoError(t, err)

	// Queued before Run starts; processed in arrival order after startup.
	for i := 0; i < 25; i++ {
		require.True(t, s.Tick())
	}
	require.True(t, s.Shutdown(ShutdownRequest{Timeout: time.Second}))

	require.NoError(t, waitRun(t, runAsync(s, context.Background())))

	res := s.Result()
	assert.EqualValues(t, 25, res.TickCount)
	assert.Len(t, res.Stopped, 4)
	for _, name := range names(4) {
		assert.Equal(t, 25, f.child(name).Sent(), name)
		assert.Len(t, f.child(name).Stops(), 1, name)
	}
}

func TestRun_AggregatesChildErrors(t *testing.T) {
	f := newFakeFactory()
	f.stopHook = func(c *fakeChild) { c.terminate(errors.New(c.name + " flush failed")) }
	s, err := New(f, Config{Children: names(2)})
	require.NoError(t, err)
	s.Shutdown(ShutdownRequest{})

	require.NoError(t, waitRun(t, runAsync(s, context.Background())))

	childErrs := s.Result().ChildErrors
	require.Error(t, childErrs)
	assert.ErrorContains(t, childErrs, "child-0 flush failed")
	assert.ErrorContains(t, childErrs, "child-1 flush failed")
}

func TestRun_DrainTimeout(t *testing.T) {
	f := newFakeFactory()
	s, err := New(f, Config{Children: names(2), DrainTimeout: 300 * time.Millisecond})
	require.NoError(t, err)
	errCh := runAsync(s, context.Background())

	s.Shutdown(ShutdownRequest{Timeout: time.Second})
	require.Eventually(t, func() bool { return f.stopCount("child-1") == 1 }, time.Second, time.Millisecond)
	f.child("child-0").terminate(nil)

	err = waitRun(t, errCh)
	assert.ErrorIs(t, err, ErrDrainTimeout)
	res := s.Result()
	assert.ErrorIs(t, res.Err, ErrDrainTimeout)
	assert.Equal(t, []string{"child-1"}, res.Pending)

	// The abandoned child reporting late must not block or panic.
	f.child("child-1").terminate(nil)
}

func TestRun_ContextCancelDrains(t *testing.T) {
	f := newFakeFactory()
	f.stopHook = stopOnRequest
	s, err := New(f, Config{Children: names(1), StopTimeout: 2 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(s, ctx)
	require.Eventually(t, func() bool { return f.child("child-0") != nil }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, errCh))
	assert.Equal(t, []stopCall{{2 * time.Second, "context canceled"}}, f.child("child-0").Stops())
}

func TestRun_StartupFault(t *testing.T) {
	f := newFakeFactory()
	f.failOn = "child-1"
	s, err := New(f, Config{Children: names(3)})
	require.NoError(t, err)

	err = s.Run(context.Background())

	assert.ErrorIs(t, err, ErrStartup)
	assert.ErrorIs(t, err, errCreate)
	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.Len(t, f.child("child-0").Stops(), 1, "already created children are asked to stop")
	assert.Nil(t, f.child("child-2"))
	assert.ErrorIs(t, s.Result().Err, ErrStartup)
}

func TestRun_PanicStopsSupervisor(t *testing.T) {
	f := newFakeFactory()
	s := newStarted(t, f, Config{Children: names(1)})
	f.child("child-0").panics = true

	s.safeHandle(Tick{})

	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.ErrorIs(t, s.Result().Err, ErrPanic)
	assert.Equal(t, "supervisor failed", f.child("child-0").Stops()[0].reason)
}

func TestRun_EmitterPanicOnStopStillFinishes(t *testing.T) {
	f := newFakeFactory()
	emitter := lifecycle.EmitterFunc(func(_, current lifecycle.State, _ string) {
		if current == lifecycle.StateStopped {
			panic("emitter boom")
		}
	})
	s, err := New(f, Config{Children: names(1)}, WithEventEmitter(emitter))
	require.NoError(t, err)
	errCh := runAsync(s, context.Background())

	s.Shutdown(ShutdownRequest{Timeout: time.Second})
	require.Eventually(t, func() bool { return f.stopCount("child-0") == 1 }, time.Second, time.Millisecond)
	f.child("child-0").terminate(nil)

	err = waitRun(t, errCh)
	assert.ErrorIs(t, err, ErrPanic)
	assert.True(t, isClosed(s.Done()), "Done must close once Run has returned")
	assert.ErrorIs(t, s.Result().Err, ErrPanic)
	assert.Equal(t, lifecycle.StateStopped, s.Result().State)

	// Producers must not block on a stopped supervisor.
	for i := 0; i < DefaultInboxSize+1; i++ {
		assert.False(t, s.Tick())
	}
}

func TestRun_PanickingFactoryIsStartupFault(t *testing.T) {
	f := newFakeFactory()
	f.panicOn = "child-1"
	s, err := New(f, Config{Children: names(2)})
	require.NoError(t, err)

	err = s.Run(context.Background())

	assert.ErrorIs(t, err, ErrStartup)
	assert.ErrorIs(t, err, ErrPanic)
	assert.ErrorContains(t, err, "constructor exploded")
	assert.True(t, isClosed(s.Done()))
	assert.Len(t, f.child("child-0").Stops(), 1, "already created children are asked to stop")
}

func TestRun_Twice(t *testing.T) {
	s, err := New(newFakeFactory(), Config{})
	require.NoError(t, err)
	s.Shutdown(ShutdownRequest{})
	require.NoError(t, s.Run(context.Background()))

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
}

func TestResult_BeforeStop(t *testing.T) {
	s := newStarted(t, newFakeFactory(), Config{Children: names(1)})
	s.handle(Tick{})

	res := s.Result()
	assert.Equal(t, lifecycle.StateRunning, res.State)
	assert.EqualValues(t, 1, res.TickCount)
}
