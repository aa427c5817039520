package timer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cacheful/internal/notify"
	"cacheful/internal/notify/notifytest"
	"cacheful/internal/pidlock"
	"cacheful/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

// fakeClock advances its own time on every After call and parks the caller
// once the next instant would pass limit.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	limit    time.Time
	parkOnce sync.Once
	parked   chan struct{}
}

func newFakeClock(now, limit time.Time) *fakeClock {
	return &fakeClock{now: now, limit: limit, parked: make(chan struct{})}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.now.Add(d)
	if next.After(c.limit) {
		c.parkOnce.Do(func() { close(c.parked) })
		return nil
	}
	c.now = next
	ch := make(chan time.Time, 1)
	ch <- next
	return ch
}

func waitParked(t *testing.T, c *fakeClock) {
	t.Helper()
	select {
	case <-c.parked:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not reach the clock limit")
	}
}

func drain(ch <-chan notify.Event) []notify.Event {
	var out []notify.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func messages(evs []notify.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Message
	}
	return out
}

var t0 = time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)

func TestRunnerFiresOnceAndHoldsLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0.Add(125*time.Second))
	bus := notify.New()
	events := notifytest.NewChan(32)
	bus.Subscribe(events, notify.LevelEvent)

	var calls atomic.Int32
	task := TaskFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	r := New(Config{TimeOfDay: "11:59:59", Period: "00:02:00", LockPath: lockPath}, task,
		WithBus(bus), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	initial := t0.Add(119 * time.Second)

	waitParked(t, clock)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.NextFireTime().Equal(initial.Add(120*time.Second)), "next fire %v", r.NextFireTime())
	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, uint64(1), r.Status().Runs)
	assert.FileExists(t, lockPath)

	second := New(Config{TimeOfDay: "11:59:59", Period: "00:02:00", LockPath: lockPath}, task, WithBus(bus))
	err := second.Start(context.Background())
	require.ErrorIs(t, err, pidlock.ErrAlreadyRunning)
	assert.Equal(t, StateStopped, second.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.NoFileExists(t, lockPath)
	assert.Equal(t, StateStopped, r.State())

	got := messages(drain(events.C))
	assert.Equal(t, []string{
		MsgStarting,
		MsgStarted,
		MsgActionDue,
		MsgActionCompleted,
		MsgAlreadyRunning,
		MsgStopping,
	}, got)
}

func TestRunnerStartedEventCarriesSchedule(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0)
	bus := notify.New()
	events := notifytest.NewChan(8)
	bus.Subscribe(events, notify.LevelEvent)

	r := New(Config{TimeOfDay: "13:00:00", Period: "00:10:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithBus(bus), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	waitParked(t, clock)
	require.NoError(t, r.Stop(context.Background()))

	evs := drain(events.C)
	require.GreaterOrEqual(t, len(evs), 2)
	started := evs[1]
	require.Equal(t, MsgStarted, started.Message)
	st, _ := started.Value("starttime")
	assert.Equal(t, time.Date(2026, 5, 14, 13, 0, 0, 0, time.UTC), st)
	period, _ := started.Value("period")
	assert.Equal(t, "600 seconds", period)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     Config
		task    Task
		wantErr error
	}{
		{name: "short period", cfg: Config{TimeOfDay: "1:00:00", Period: "0:1:59"}, task: TaskFunc(func(context.Context) error { return nil }), wantErr: schedule.ErrRange},
		{name: "bad time", cfg: Config{TimeOfDay: "noon", Period: "1:00:00"}, task: TaskFunc(func(context.Context) error { return nil }), wantErr: schedule.ErrFormat},
		{name: "bad period", cfg: Config{TimeOfDay: "1:00:00", Period: "90s"}, task: TaskFunc(func(context.Context) error { return nil }), wantErr: schedule.ErrFormat},
		{name: "nil task", cfg: Config{TimeOfDay: "1:00:00", Period: "1:00:00"}, task: nil, wantErr: ErrNoTask},
		{name: "nil func", cfg: Config{TimeOfDay: "1:00:00", Period: "1:00:00"}, task: TaskFunc(nil), wantErr: ErrNoTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lockPath := filepath.Join(dir, tt.name+".pid")
			tt.cfg.LockPath = lockPath
			bus := notify.New()
			events := notifytest.NewChan(4)
			bus.Subscribe(events, notify.LevelException)

			r := New(tt.cfg, tt.task, WithBus(bus))
			err := r.Start(context.Background())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateStopped, r.State())
			assert.NoFileExists(t, lockPath)

			evs := drain(events.C)
			require.Len(t, evs, 1)
			assert.Equal(t, notify.LevelException, evs[0].Level)
			assert.Equal(t, MsgInvalidSchedule, evs[0].Message)
		})
	}
}

func TestStartTwiceAndAfterStop(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0)
	r := New(Config{TimeOfDay: "1:00:00", Period: "1:00:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithClock(clock))

	require.NoError(t, r.Start(context.Background()))
	require.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
	require.ErrorIs(t, r.Start(context.Background()), ErrStopped)

	idle := New(Config{}, nil)
	require.NoError(t, idle.Stop(context.Background()))
	<-idle.Done()
}

// gateClock holds the first Now call until open is closed.
type gateClock struct {
	entered chan struct{}
	open    chan struct{}
	once    sync.Once
}

func (c *gateClock) Now() time.Time {
	c.once.Do(func() {
		close(c.entered)
		<-c.open
	})
	return t0
}

func (c *gateClock) After(time.Duration) <-chan time.Time { return nil }

func TestStopDuringStartReleasesLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := &gateClock{entered: make(chan struct{}), open: make(chan struct{})}
	r := New(Config{TimeOfDay: "1:00:00", Period: "1:00:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Start(ctx) }()

	select {
	case <-clock.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not reach the clock")
	}
	assert.FileExists(t, lockPath, "lock is held while Start computes the first fire")
	require.NoError(t, r.Stop(context.Background()))
	close(clock.open)

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	<-r.Done()
	assert.Equal(t, StateStopped, r.State())
	assert.NoFileExists(t, lockPath)
}

func TestRunReturnsOnCancelAndReleases(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0.Add(10*time.Second))
	r := New(Config{TimeOfDay: "1:00:00", Period: "1:00:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	waitParked(t, clock)
	assert.FileExists(t, lockPath)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NoFileExists(t, lockPath)
	<-r.Done()
}

func TestStopLeavesForeignLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0)
	bus := notify.New()
	events := notifytest.NewChan(8)
	bus.Subscribe(events, notify.LevelEvent)

	r := New(Config{TimeOfDay: "1:00:00", Period: "1:00:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithBus(bus), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid()+1)), 0o644))

	require.NoError(t, r.Stop(context.Background()))
	assert.FileExists(t, lockPath)
	evs := drain(events.C)
	assert.Equal(t, MsgNotRemoved, evs[len(evs)-1].Message)
}

func TestStopWarnsOnCorruptLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "timer.pid")
	clock := newFakeClock(t0, t0)
	bus := notify.New()
	warnings := notifytest.NewChan(8)
	bus.Subscribe(warnings, notify.LevelWarning)

	r := New(Config{TimeOfDay: "1:00:00", Period: "1:00:00", LockPath: lockPath},
		TaskFunc(func(context.Context) error { return nil }), WithBus(bus), WithClock(clock))
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, os.WriteFile(lockPath, []byte("garbage"), 0o644))

	require.NoError(t, r.Stop(context.Background()))
	evs := drain(warnings.C)
	require.Len(t, evs, 1)
	assert.Equal(t, notify.LevelWarning, evs[0].Level)
	assert.Equal(t, MsgRemoveFailed, evs[0].Message)
	exc, _ := evs[0].Value("exception")
	assert.ErrorIs(t, exc.(error), pidlock.ErrCorrupt)
}

// checkRunner returns a runner positioned at fire with a 120s period, without
// starting its loop.
func checkRunner(task Task, fire time.Time) (*Runner, *notifytest.Chan) {
	bus := notify.New()
	events := notifytest.NewChan(16)
	bus.Subscribe(events, notify.LevelInfo)
	r := New(Config{}, task, WithBus(bus))
	r.spec = schedule.Spec{TimeOfDay: schedule.TimeOfDay{Hour: 12}, Period: 120 * time.Second}
	r.next = fire
	return r, events
}

func TestCheckTime(t *testing.T) {
	fire := t0
	var calls atomic.Int32
	r, events := checkRunner(TaskFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), fire)

	// Before the fire time: not due, unchanged.
	assert.False(t, r.check(context.Background(), fire.Add(-time.Second)))
	assert.True(t, r.NextFireTime().Equal(fire))

	// Inside the window: fires and advances one period.
	assert.True(t, r.check(context.Background(), fire.Add(2*time.Second)))
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, r.NextFireTime().Equal(fire.Add(120*time.Second)))

	got := messages(drain(events.C))
	assert.Equal(t, []string{MsgChecking, MsgChecking, MsgActionDue, MsgActionCompleted}, got)
}

func TestCheckTimeActionFailureDoesNotAdvance(t *testing.T) {
	boom := errors.New("boom")
	r, events := checkRunner(TaskFunc(func(context.Context) error { return boom }), t0)

	assert.False(t, r.check(context.Background(), t0.Add(time.Second)))
	assert.True(t, r.NextFireTime().Equal(t0))
	assert.Equal(t, uint64(1), r.Status().Failures)

	evs := drain(events.C)
	last := evs[len(evs)-1]
	assert.Equal(t, notify.LevelException, last.Level)
	assert.Equal(t, MsgActionFailed, last.Message)
	exc, _ := last.Value("exception")
	var ae *ActionError
	require.ErrorAs(t, exc.(error), &ae)
	assert.ErrorIs(t, ae, boom)
	assert.False(t, ae.Panic)
}

func TestCheckTimeRecoversActionPanic(t *testing.T) {
	r, events := checkRunner(TaskFunc(func(context.Context) error { panic("kaboom") }), t0)

	assert.False(t, r.check(context.Background(), t0.Add(time.Second)))
	assert.True(t, r.NextFireTime().Equal(t0))

	evs := drain(events.C)
	exc, _ := evs[len(evs)-1].Value("exception")
	var ae *ActionError
	require.ErrorAs(t, exc.(error), &ae)
	assert.True(t, ae.Panic)
	assert.Contains(t, ae.Error(), "kaboom")
}

func TestCheckTimeRejoinsGridAfterMissedWindow(t *testing.T) {
	r, events := checkRunner(TaskFunc(func(context.Context) error { return nil }), t0)

	now := t0.Add(130 * time.Second)
	assert.False(t, r.check(context.Background(), now))
	assert.True(t, r.NextFireTime().Equal(t0.Add(240*time.Second)))

	evs := drain(events.C)
	last := evs[len(evs)-1]
	assert.Equal(t, notify.LevelWarning, last.Level)
	assert.Equal(t, MsgMissedWindow, last.Message)
}

func TestTickRecoversUnexpectedPanic(t *testing.T) {
	bus := notify.New()
	events := notifytest.NewChan(4)
	bus.Subscribe(events, notify.LevelException)
	r := New(Config{}, TaskFunc(func(context.Context) error { return nil }),
		WithBus(bus), WithClock(panicClock{}))

	assert.NotPanics(t, func() { r.tick(context.Background()) })
	evs := drain(events.C)
	require.Len(t, evs, 1)
	assert.Equal(t, MsgUnexpected, evs[0].Message)
}

type panicClock struct{}

func (panicClock) Now() time.Time                       { panic("clock broke") }
func (panicClock) After(time.Duration) <-chan time.Time { return nil }

func TestCallRendersBoundParams(t *testing.T) {
	var got []any
	task := Call("print", func(ctx context.Context, params ...any) error {
		got = params
		return nil
	}, "It's happening", "now!")

	require.NoError(t, task.Invoke(context.Background()))
	assert.Equal(t, []any{"It's happening", "now!"}, got)
	assert.Equal(t, "print(It's happening, now!)", task.(interface{ String() string }).String())

	function, params := describe(task)
	assert.Equal(t, "print", function)
	assert.Equal(t, "(It's happening, now!)", params)
}
