package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls trigger behavior (cron/rate/delay/trigger lines).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled tasks.
	// If omitted, the engine follows scheduler.enabled with built-in defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Jobs tunes the demo jobs.
	Jobs JobsConfig `json:"jobs"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone for cron expressions (IANA name). Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// JobsConfig tunes the demo jobs. Zero values fall back to the defaults
// below (see ApplyDefaults).
//
//   - delay_ms: fixed-delay interval, fixed-rate interval and dynamic trigger delay (2000)
//   - cron: cron expression for the cron job ("0 55 23 * * ?", daily at 23:55:00)
//   - async_rate_ms: cadence of the async fixed-rate job (1000)
//   - async_sleep_ms: how long each async run sleeps (2000)
//   - disabled: job names to leave unregistered
type JobsConfig struct {
	DelayMS      int      `json:"delay_ms,omitempty"`
	Cron         string   `json:"cron,omitempty"`
	AsyncRateMS  int      `json:"async_rate_ms,omitempty"`
	AsyncSleepMS int      `json:"async_sleep_ms,omitempty"`
	Disabled     []string `json:"disabled,omitempty"`
}

// Job names accepted in jobs.disabled.
const (
	JobFixedDelay     = "fixed-delay"
	JobFixedRate      = "fixed-rate"
	JobFixedRateAsync = "fixed-rate-async"
	JobCron           = "cron"
	JobDynamic        = "dynamic"
)

// JobNames lists every known job in registration order.
var JobNames = []string{JobFixedDelay, JobFixedRate, JobFixedRateAsync, JobCron, JobDynamic}

// JobEnabled reports whether name is not listed in Disabled.
func (j JobsConfig) JobEnabled(name string) bool {
	for _, d := range j.Disabled {
		if d == name {
			return false
		}
	}
	return true
}
