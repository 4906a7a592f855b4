package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cronjobs/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) structured attrs describing the new values of those sections.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	oPresent := oldCfg.TaskEngine != nil
	nPresent := newCfg.TaskEngine != nil
	if oPresent != nPresent || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", nPresent),
			logx.Bool("task_engine.enabled", TaskEngineEnabled(newCfg)),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
		)
	}

	if JobsChanged(oldCfg, newCfg) {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.delay_ms", newCfg.Jobs.DelayMS),
			logx.String("jobs.cron", newCfg.Jobs.Cron),
			logx.Int("jobs.async_rate_ms", newCfg.Jobs.AsyncRateMS),
			logx.Int("jobs.async_sleep_ms", newCfg.Jobs.AsyncSleepMS),
			logx.String("jobs.disabled", strings.Join(newCfg.Jobs.Disabled, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// JobsChanged reports whether the jobs section differs. Disabled lists are
// compared as sets.
func JobsChanged(oldCfg, newCfg *Config) bool {
	o, n := oldCfg.Jobs, newCfg.Jobs
	if o.DelayMS != n.DelayMS || strings.TrimSpace(o.Cron) != strings.TrimSpace(n.Cron) ||
		o.AsyncRateMS != n.AsyncRateMS || o.AsyncSleepMS != n.AsyncSleepMS {
		return true
	}
	return !reflect.DeepEqual(sortedSet(o.Disabled), sortedSet(n.Disabled))
}

// TaskEngineEnabled resolves task_engine.enabled, falling back to scheduler.enabled.
func TaskEngineEnabled(cfg *Config) bool {
	if cfg.TaskEngine != nil && cfg.TaskEngine.Enabled != nil {
		return *cfg.TaskEngine.Enabled
	}
	return cfg.Scheduler.Enabled
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func sortedSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
