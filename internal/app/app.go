package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cacheful/internal/cachestore"
	"cacheful/internal/config"
	"cacheful/internal/metrics"
	"cacheful/internal/notify"
	"cacheful/internal/notify/telegram"
	"cacheful/internal/observability/httpserver"
	"cacheful/internal/runtime/supervisor"
	"cacheful/internal/schedule"
	"cacheful/internal/timer"
	logx "cacheful/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
)

// MsgRestartRequired is published when a reload touches a section that is
// only read at startup.
const MsgRestartRequired = "Configuration changed; restart required."

const previewRuns = 3

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *notify.Bus
	reg  *prometheus.Registry

	now func() time.Time

	store  cachestore.Store
	tg     *telegram.Subscriber
	runner *timer.Runner
	http   *httpserver.Server
}

type Option func(*options)

type options struct {
	lookup   func(string) (string, bool)
	sdNotify sdNotifyFunc
	clock    timer.Clock
}

// WithEnvLookup replaces os.LookupEnv for the UPDATE_* overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

func withSdNotify(fn sdNotifyFunc) Option { return func(o *options) { o.sdNotify = fn } }

func withClock(c timer.Clock) Option { return func(o *options) { o.clock = c } }

// New loads the config and wires every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetEnvLookup(o.lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		log:  log,
		logs: logSvc,
		bus:  notify.New(),
		reg:  prometheus.NewRegistry(),
	}
	if err := a.wire(cfg, root, o); err != nil {
		a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config, root logx.Logger, o options) error {
	n := cfg.Notify
	if n.Log.Enabled {
		a.bus.Subscribe(notify.NewLogSubscriber(root.With(logx.String("comp", "timer"))), notify.LevelOrDefault(n.Log.Threshold))
	}
	a.bus.Subscribe(metrics.New(a.reg), notify.LevelInfo)
	if n.Systemd {
		a.bus.Subscribe(newReadinessSubscriber(o.sdNotify, root), notify.LevelInfo)
	}
	if n.Telegram.Enabled {
		tg, err := telegram.New(mapTelegramConfig(cfg), root)
		if err != nil {
			return fmt.Errorf("notify.telegram: %w", err)
		}
		a.tg = tg
		a.bus.Subscribe(tg, notify.LevelOrDefault(n.Telegram.Threshold))
	}

	st, err := OpenCache(cfg, root)
	if err != nil {
		return err
	}
	if st != nil {
		a.store = st
		a.log.Info("cache enabled", logx.String("driver", cfg.Cache.Driver), logx.Int("columns", len(cfg.Cache.Columns)))
	}

	a.now = time.Now
	ropts := []timer.Option{timer.WithBus(a.bus), timer.WithLogger(root.With(logx.String("comp", "timer")))}
	if o.clock != nil {
		ropts = append(ropts, timer.WithClock(o.clock))
		a.now = o.clock.Now
	}
	task := recordTask(a.store, len(cfg.Cache.Columns), a.now, root, cfg.Timer.Message)
	a.runner = timer.New(timer.Config{
		TimeOfDay: cfg.Timer.Time,
		Period:    cfg.Timer.Period,
		LockPath:  cfg.Timer.PIDFile,
	}, task, ropts...)

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		a.http = httpserver.New(hc, a.runner.Status, a.reg, root)
		if err := a.http.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Runner exposes the timer for status queries.
func (a *App) Runner() *timer.Runner { return a.runner }

// Bus is the notification bus every component publishes to.
func (a *App) Bus() *notify.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the timer, then the optional HTTP server and config watch.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.runner.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if spec, err := schedule.Parse(a.cfg.Timer.Time, a.cfg.Timer.Period); err == nil {
		a.log.Info("schedule", logx.String("spec", spec.String()), logx.String("next", spec.Preview(a.now(), previewRuns)))
	}

	if a.http != nil {
		a.sup.GoRestart("http", a.http.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithMaxRestarts(5))
	}

	if a.cfgm.Path() != "" {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started", logx.String("pid_file", a.cfg.Timer.PIDFile))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyReload(last, next)
			last = next
		}
	}
}

// applyReload hot-applies logging and reports the rest.
func (a *App) applyReload(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if ch.Has("logging") {
		if err := a.logs.Apply(mapLogConfig(next)); err != nil {
			a.log.Warn("logging reload incomplete", logx.Err(err))
		}
	}
	if len(ch.Restart) > 0 {
		a.bus.Publish(notify.LevelWarning, MsgRestartRequired,
			notify.D("sections", strings.Join(ch.Restart, ", ")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in reverse start order; every step is bounded by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("timer", timer.DefaultStopTimeout, a.runner.Stop)
	a.sup.Cancel()
	step("supervisor", 3*time.Second, a.sup.Wait)
	a.closeResources()

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.tg != nil {
		a.tg.Close()
		a.tg = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("cache close failed", logx.Err(err))
		}
		a.store = nil
	}
}

// Run starts the app and blocks until ctx ends, a supervised component
// fails, or the timer stops on its own.
func (a *App) Run(ctx context.Context) error {
	stopCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), timer.DefaultStopTimeout+5*time.Second)
	}
	if err := a.Start(ctx); err != nil {
		c, cancel := stopCtx()
		defer cancel()
		_ = a.Stop(c, StopFatalError)
		return err
	}
	reason := StopUnknown
	select {
	case <-a.Done():
		reason = StopFatalError
	case <-a.runner.Done():
		reason = StopTimerEnded
	}
	// the supervisor context derives from ctx
	if ctx.Err() != nil {
		reason = StopContext
	}
	c, cancel := stopCtx()
	defer cancel()
	stopErr := a.Stop(c, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}
