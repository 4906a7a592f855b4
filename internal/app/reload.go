package app

import (
	"context"
	"strings"
	"time"

	"cronjobs/internal/config"
	"cronjobs/internal/eventbus"
	logx "cronjobs/pkg/logx"
)

// toggleTimeout bounds stopping a service that a reload disabled.
const toggleTimeout = 3 * time.Second

// logEvent writes one bus event at debug level; frequent schedules would
// otherwise flood the info log.
func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("topic", string(e.Topic)), logx.Time("time", e.Time)}
	switch {
	case e.Task != nil:
		fields = append(fields, logx.Task(e.Task.Name), logx.String("mode", e.Task.Mode))
		if e.Task.Duration > 0 {
			fields = append(fields, logx.Duration("dur", e.Task.Duration))
		}
		if e.Task.Error != "" {
			fields = append(fields, logx.String("error", e.Task.Error))
		}
	case e.Config != nil:
		fields = append(fields, logx.String("sections", strings.Join(e.Config.Sections, ",")))
	}
	a.log.Debug("event", fields...)
}

// applyConfig moves the running services from oldCfg to newCfg.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	summary := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", summary...)

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("log file unavailable; using console", logx.Err(err))
	}

	schedWas, engWas := a.sched.Enabled(), a.engine.Enabled()
	engIs := engWas
	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
		engIs = engCfg.Enabled
	}
	a.sched.Apply(mapSchedulerConfig(newCfg))
	schedIs := newCfg.Scheduler.Enabled

	// The scheduler stops before the engine and starts after it.
	if schedWas && !schedIs {
		a.stopService(c, "scheduler", a.sched.Stop)
	}
	if engWas && !engIs {
		a.stopService(c, "task engine", a.engine.Stop)
	}
	if !engWas && engIs {
		a.log.Info("task engine enabled via config")
		a.engine.Start(c)
	}
	if !schedWas && schedIs {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	// Re-registering restarts lines and rate ticks, so only do it when jobs changed.
	if config.JobsChanged(oldCfg, newCfg) {
		if err := a.registerJobs(newCfg.Jobs); err != nil {
			a.log.Warn("job registration failed", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Config(time.Now(), sections))
	a.log.Info("config reloaded", summary...)
}

// stopService stops a service that a reload disabled.
func (a *App) stopService(c context.Context, name string, stop func(context.Context)) {
	a.log.Info(name + " disabled via config")
	stopCtx, cancel := context.WithTimeout(c, toggleTimeout)
	defer cancel()
	stop(stopCtx)
}
