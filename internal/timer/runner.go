package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cacheful/internal/notify"
	"cacheful/internal/pidlock"
	"cacheful/internal/runtime/supervisor"
	"cacheful/internal/schedule"
	logx "cacheful/pkg/logx"
)

// Published messages. Subscribers may match on these.
const (
	MsgInvalidSchedule = "Invalid timer schedule."
	MsgAlreadyRunning  = "Timer already in process."
	MsgLockFailed      = "Could not create tracking file."
	MsgStarting        = "Starting timer and opening the tracking file."
	MsgStarted         = "Timer info validated and timer started."
	MsgChecking        = "Checking time."
	MsgActionDue       = "It is time for the action."
	MsgActionCompleted = "Action completed."
	MsgActionFailed    = "Action failed."
	MsgMissedWindow    = "Missed the due window."
	MsgUnexpected      = "Unexpected exception."
	MsgStopping        = "Stopping timer and deleting file."
	MsgNotRemoved      = "Did not remove file."
	MsgRemoveFailed    = "Could not remove file."
)

// DefaultStopTimeout bounds how long Run waits for the loop after ctx ends.
const DefaultStopTimeout = 10 * time.Second

// Config is the raw schedule as the operator wrote it.
type Config struct {
	TimeOfDay string // H:MM:SS, daily anchor
	Period    string // H:MM:SS, at least 00:02:00
	LockPath  string // defaults to pidlock.DefaultPath
}

// Clock is the time source of a Runner.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Option func(*Runner)

// WithBus sets the notification bus. The default has no subscribers.
func WithBus(b *notify.Bus) Option {
	return func(r *Runner) {
		if b != nil {
			r.bus = b
		}
	}
}

func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// Status is a point-in-time view for health endpoints.
type Status struct {
	State    string    `json:"state"`
	Schedule string    `json:"schedule,omitempty"`
	NextFire time.Time `json:"next_fire,omitempty"`
	LockPath string    `json:"lock_path"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
}

// Runner owns one schedule, its lock and its loop goroutine.
type Runner struct {
	cfg   Config
	task  Task
	bus   *notify.Bus
	clock Clock
	log   logx.Logger

	mu    sync.Mutex
	state State
	spec  schedule.Spec
	next  time.Time
	lock  *pidlock.Lock
	sup   *supervisor.Supervisor

	releaseOnce sync.Once
	done        chan struct{}

	runs     atomic.Uint64
	failures atomic.Uint64
}

func New(cfg Config, task Task, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		task:  task,
		clock: realClock{},
		log:   logx.Nop(),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.bus == nil {
		r.bus = notify.New()
	}
	if strings.TrimSpace(r.cfg.LockPath) == "" {
		r.cfg.LockPath = pidlock.DefaultPath
	}
	return r
}

// Start validates the schedule, acquires the lock and launches the loop.
// Validation and exclusivity failures are published at EXCEPTION and
// returned; nothing is left running in that case. A Stop that lands while
// Start is still validating or acquiring wins: Start releases whatever it
// acquired and returns ErrStopped.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateNew:
	case StateStopped:
		r.mu.Unlock()
		return ErrStopped
	default:
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateValidating
	r.mu.Unlock()

	spec, err := r.validate()
	if err != nil {
		r.bus.Publish(notify.LevelException, MsgInvalidSchedule, notify.D("exception", err))
		r.release()
		return err
	}

	if !r.advance(StateValidating, StateAcquiring) {
		r.release()
		return ErrStopped
	}
	lock, err := pidlock.TryAcquire(r.cfg.LockPath)
	if err != nil {
		msg := MsgLockFailed
		if errors.Is(err, pidlock.ErrAlreadyRunning) {
			msg = MsgAlreadyRunning
		}
		r.bus.Publish(notify.LevelException, msg,
			notify.D("filename", r.cfg.LockPath), notify.D("exception", err))
		r.release()
		return err
	}
	r.bus.Publish(notify.LevelEvent, MsgStarting, notify.D("filename", lock.Path()))

	next := spec.Next(r.clock.Now())

	// The lock is handed over and the loop launched under r.mu, so Stop
	// either sees a running supervisor or has already marked the runner
	// stopped and leaves the release to us.
	r.mu.Lock()
	r.lock = lock
	if r.state != StateAcquiring {
		r.mu.Unlock()
		r.release()
		return ErrStopped
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	r.spec = spec
	r.next = next
	r.sup = sup
	r.state = StateRunning
	announced := make(chan struct{})
	sup.Go("timer.loop", func(ctx context.Context) error {
		<-announced
		return r.loop(ctx)
	})
	r.mu.Unlock()
	defer close(announced)

	r.bus.Publish(notify.LevelEvent, MsgStarted,
		notify.D("starttime", next),
		notify.D("period", fmt.Sprintf("%d seconds", spec.Seconds())))
	r.log.Debug("timer loop starting",
		logx.String("schedule", spec.String()),
		logx.Duration("check_interval", schedule.CheckInterval(spec.Period)))
	return nil
}

// Stop ends the loop, waits for it within ctx, and releases the lock.
// It is safe to call more than once and before Start. While Start is in
// progress Stop only marks the runner stopped; Start then performs the
// release and Done closes once it has.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	sup := r.sup
	starting := r.state == StateValidating || r.state == StateAcquiring
	if r.state == StateNew || starting {
		r.state = StateStopped
	}
	r.mu.Unlock()

	if starting {
		return nil
	}
	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	r.release()
	return err
}

// Run is Start followed by blocking until ctx ends, then Stop.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-r.done:
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultStopTimeout)
	defer cancel()
	return r.Stop(stopCtx)
}

// Done is closed once the runner has stopped and released its lock.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// NextFireTime is zero until Start succeeds.
func (r *Runner) NextFireTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		State:    r.state.String(),
		NextFire: r.next,
		LockPath: r.cfg.LockPath,
	}
	if r.spec.Period > 0 {
		st.Schedule = r.spec.String()
	}
	r.mu.Unlock()
	st.Runs = r.runs.Load()
	st.Failures = r.failures.Load()
	return st
}

func (r *Runner) validate() (schedule.Spec, error) {
	if r.task == nil {
		return schedule.Spec{}, ErrNoTask
	}
	if f, ok := r.task.(TaskFunc); ok && f == nil {
		return schedule.Spec{}, ErrNoTask
	}
	return schedule.Parse(r.cfg.TimeOfDay, r.cfg.Period)
}

func (r *Runner) loop(ctx context.Context) error {
	defer r.release()
	interval := schedule.CheckInterval(r.spec.Period)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(interval):
		}
	}
}

// tick runs one due check and turns any panic into an EXCEPTION event.
func (r *Runner) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.bus.Publish(notify.LevelException, MsgUnexpected,
				notify.D("exception", fmt.Errorf("panic: %v", p)))
		}
	}()
	r.check(ctx, r.clock.Now())
}

// check evaluates one instant and reports whether the task fired.
func (r *Runner) check(ctx context.Context, now time.Time) bool {
	r.bus.Publish(notify.LevelInfo, MsgChecking, notify.D("time", now))

	r.mu.Lock()
	fire, period := r.next, r.spec.Period
	r.mu.Unlock()

	switch {
	case schedule.IsDue(now, fire, period):
		fired := r.fire(ctx, fire, period)
		r.setNext(schedule.Advance(fire, period, fired))
		return fired
	case !now.Before(fire.Add(schedule.DueWindow(period))):
		// Window passed without a successful fire; rejoin the grid.
		next := schedule.FirstAfter(fire, period, now)
		r.bus.Publish(notify.LevelWarning, MsgMissedWindow,
			notify.D("firetime", fire), notify.D("nextfire", next))
		r.setNext(next)
	}
	return false
}

func (r *Runner) fire(ctx context.Context, fire time.Time, period time.Duration) bool {
	function, params := describe(r.task)
	r.bus.Publish(notify.LevelEvent, MsgActionDue,
		notify.D("function", function), notify.D("params", params))

	start := r.clock.Now()
	err := r.invoke(ctx, function)
	elapsed := r.clock.Now().Sub(start)

	if err != nil {
		r.failures.Add(1)
		r.bus.Publish(notify.LevelException, MsgActionFailed,
			notify.D("function", function),
			notify.D("exception", err),
			notify.D("timeelapsed", elapsed))
		return false
	}
	r.runs.Add(1)
	r.bus.Publish(notify.LevelEvent, MsgActionCompleted,
		notify.D("timeelapsed", elapsed),
		notify.D("nextfire", fire.Add(period)))
	return true
}

func (r *Runner) invoke(ctx context.Context, name string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ActionError{Task: name, Err: fmt.Errorf("%v", p), Panic: true}
		}
	}()
	if e := r.task.Invoke(ctx); e != nil {
		return &ActionError{Task: name, Err: e}
	}
	return nil
}

// release runs the lock cleanup exactly once on every exit path.
func (r *Runner) release() {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		lock := r.lock
		r.mu.Unlock()

		if lock != nil {
			res, err := lock.Release()
			switch res {
			case pidlock.ReleaseRemoved:
				r.bus.Publish(notify.LevelEvent, MsgStopping, notify.D("filename", lock.Path()))
			case pidlock.ReleaseAbsent, pidlock.ReleaseNotOwner:
				r.bus.Publish(notify.LevelEvent, MsgNotRemoved,
					notify.D("filename", lock.Path()), notify.D("reason", res.String()))
			default:
				r.bus.Publish(notify.LevelWarning, MsgRemoveFailed,
					notify.D("filename", lock.Path()), notify.D("exception", err))
			}
		}
		r.setState(StateStopped)
		close(r.done)
	})
}

// advance moves from one state to the next unless Stop got there first.
func (r *Runner) advance(from, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = to
	return true
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) setNext(t time.Time) {
	r.mu.Lock()
	r.next = t
	r.mu.Unlock()
}
