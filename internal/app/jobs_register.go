package app

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"cronjobs/internal/config"
	"cronjobs/internal/jobs"
	"cronjobs/internal/task/scheduler"
	"cronjobs/internal/task/trigger"
	logx "cronjobs/pkg/logx"
)

type jobRegistration struct {
	name     string
	register func(name string) error
}

// jobRegistrations returns the demo jobs wired to the scheduler:
//
//   - fixed-delay: job 1, delay after each completion
//   - fixed-rate: job 2 at delay cadence, overlapping runs allowed
//   - fixed-rate-async: sleeps async_sleep at async_rate cadence on its own goroutine
//   - cron: logs a line at each match of the cron expression
//   - dynamic: job 1, next run computed as last completion (or now) + delay
//
// The delay-based jobs all read their spacing from js.
func jobRegistrations(s *scheduler.Service, js *jobs.Service, jc config.JobsConfig, clk clock.Clock) []jobRegistration {
	delay := js.Delay()
	return []jobRegistration{
		{config.JobFixedDelay, func(name string) error {
			_, err := s.RegisterFixedDelay(name, delay, js.FixedDelayTask)
			return err
		}},
		{config.JobFixedRate, func(name string) error {
			_, err := s.RegisterFixedRate(name, delay, js.FixedRateTask,
				scheduler.WithOverlap(scheduler.OverlapAllow))
			return err
		}},
		{config.JobFixedRateAsync, func(name string) error {
			_, err := s.RegisterFixedRate(name, jc.AsyncRate(), js.AsyncRateTask(jc.AsyncSleep()),
				scheduler.Async(), scheduler.WithOverlap(scheduler.OverlapAllow))
			return err
		}},
		{config.JobCron, func(name string) error {
			_, err := s.RegisterCron(name, jc.Cron, js.CronTask)
			return err
		}},
		{config.JobDynamic, func(name string) error {
			_, err := s.RegisterDynamicTrigger(name, trigger.NewDelay(delay, trigger.WithClock(clk)).Trigger(), js.DynamicTask)
			return err
		}},
	}
}

// registerJobs (re)registers every enabled job and removes disabled ones.
// Registration upserts by name, so it is safe to call on every config change.
// The job service is rebuilt each time so its delay follows the config.
func (a *App) registerJobs(jc config.JobsConfig) error {
	js := jobs.New(a.jobsLog, jc.Delay())
	for _, r := range jobRegistrations(a.sched, js, jc, a.clock) {
		if !jc.JobEnabled(r.name) {
			if a.sched.Remove(r.name) {
				a.log.Info("job disabled", logx.String("job", r.name))
			}
			continue
		}
		if err := r.register(r.name); err != nil {
			return fmt.Errorf("register job %s: %w", r.name, err)
		}
	}
	a.log.Debug("jobs registered", logx.Duration("delay", js.Delay()), logx.String("cron", jc.Cron))
	return nil
}
