package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cronjobs/internal/task/scheduler"
	logx "cronjobs/pkg/logx"
)

// maxMS is the largest millisecond count that fits in a time.Duration.
const maxMS = math.MaxInt64 / int64(time.Millisecond)

// Validate checks every field and returns all problems joined. Each error
// is prefixed with the field's dotted path. Call after ApplyDefaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			errs = append(errs, errors.New("task_engine.workers: must be >= 0"))
		}
		if te.QueueSize < 0 {
			errs = append(errs, errors.New("task_engine.queue_size: must be >= 0"))
		}
		if te.HistorySize < 0 {
			errs = append(errs, errors.New("task_engine.history_size: must be >= 0"))
		}
		if _, _, err := te.Timeouts(); err != nil {
			errs = append(errs, err)
		}
	}

	j := cfg.Jobs
	for _, f := range []struct {
		path string
		ms   int
	}{
		{"jobs.delay_ms", j.DelayMS},
		{"jobs.async_rate_ms", j.AsyncRateMS},
		{"jobs.async_sleep_ms", j.AsyncSleepMS},
	} {
		if err := checkMillis(f.path, f.ms); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := scheduler.ParseCron(j.Cron); err != nil {
		errs = append(errs, fmt.Errorf("jobs.cron: %w", err))
	}
	for i, name := range j.Disabled {
		if !knownJob(name) {
			errs = append(errs, fmt.Errorf("jobs.disabled[%d]: unknown job %q (known: %s)", i, name, strings.Join(JobNames, ", ")))
		}
	}

	return errors.Join(errs...)
}

// checkMillis requires a positive millisecond count that converts to a
// time.Duration without overflow.
func checkMillis(path string, ms int) error {
	switch {
	case ms <= 0:
		return fmt.Errorf("%s: must be > 0", path)
	case int64(ms) > maxMS:
		return fmt.Errorf("%s: must be <= %d", path, maxMS)
	}
	return nil
}

func knownJob(name string) bool {
	for _, n := range JobNames {
		if n == name {
			return true
		}
	}
	return false
}

// Delay returns jobs.delay_ms as a duration.
func (j JobsConfig) Delay() time.Duration { return time.Duration(j.DelayMS) * time.Millisecond }

// AsyncRate returns jobs.async_rate_ms as a duration.
func (j JobsConfig) AsyncRate() time.Duration { return time.Duration(j.AsyncRateMS) * time.Millisecond }

// AsyncSleep returns jobs.async_sleep_ms as a duration.
func (j JobsConfig) AsyncSleep() time.Duration {
	return time.Duration(j.AsyncSleepMS) * time.Millisecond
}
