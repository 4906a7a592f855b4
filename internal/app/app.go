package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"cronjobs/internal/config"
	"cronjobs/internal/eventbus"
	rtsup "cronjobs/internal/runtime/supervisor"
	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/scheduler"
	logx "cronjobs/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	clock clock.Clock

	engine *engine.Service
	sched  *scheduler.Service

	jobsLog logx.Logger
}

// Option configures an App.
type Option func(*App)

// WithClock sets the clock used by timer lines and the dynamic trigger.
func WithClock(c clock.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// NewApp loads the config at cfgPath (empty means built-in defaults) and
// wires logging, the task engine, the scheduler and the demo jobs.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.Comp("app"))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		clock: clock.New(),
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	root := logSvc.Logger()
	a.engine = engine.New(engCfg, root.With(logx.Comp("taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, root.With(logx.Comp("scheduler")), a.bus,
		scheduler.WithClock(a.clock))
	a.jobsLog = root.With(logx.Comp("jobs"))

	if err := a.registerJobs(cfg.Jobs); err != nil {
		return nil, err
	}
	return a, nil
}

// Scheduler exposes the scheduler for diagnostics.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// A reload is committed only if the services could take it.
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapTaskEngineConfig(cfg)
		return err
	})

	// Engine first so the first scheduler ticks find it running.
	if a.engine.Enabled() {
		a.engine.Start(run)
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	reloads := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(reloads)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-reloads:
				if !ok {
					return
				}
				next = newest(reloads, next)
				a.applyConfig(c, applied, next)
				applied = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Running()),
		logx.String("schedules", strings.Join(a.sched.Names(), ",")),
	)
	return nil
}

// newest drains ch without blocking and returns the last config seen.
func newest(ch <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case next, ok := <-ch:
			if !ok {
				return cfg
			}
			if next != nil {
				cfg = next
			}
		default:
			return cfg
		}
	}
}
