package config

import "strings"

const (
	DefaultDelayMS      = 2000
	DefaultCron         = "0 55 23 * * ?"
	DefaultAsyncRateMS  = 1000
	DefaultAsyncSleepMS = 2000
	DefaultLogLevel     = "info"
	DefaultLogFile      = "./cronjobs.log"
)

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:   DefaultLogLevel,
			Console: true,
		},
		Scheduler: SchedulerConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued job tunables and logging fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		cfg.Logging.File.Path = DefaultLogFile
	}

	j := &cfg.Jobs
	if j.DelayMS == 0 {
		j.DelayMS = DefaultDelayMS
	}
	if strings.TrimSpace(j.Cron) == "" {
		j.Cron = DefaultCron
	}
	if j.AsyncRateMS == 0 {
		j.AsyncRateMS = DefaultAsyncRateMS
	}
	if j.AsyncSleepMS == 0 {
		j.AsyncSleepMS = DefaultAsyncSleepMS
	}
}
