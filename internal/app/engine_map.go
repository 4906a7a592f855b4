package app

import (
	"fmt"

	"cronjobs/internal/config"
	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/scheduler"
	logx "cronjobs/pkg/logx"
)

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	te := cfg.TaskEngine
	enabled := config.TaskEngineEnabled(cfg)

	// Safety: avoid a config where scheduler triggers run but engine is explicitly disabled.
	if cfg.Scheduler.Enabled && !enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}

	defTimeout, maxQueueDelay, err := te.Timeouts()
	if err != nil {
		return engine.Config{}, err
	}

	out := engine.Config{
		Enabled:        enabled,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
	}
	if te != nil {
		// Zero values are filled by engine.New/Apply.
		out.Workers = te.Workers
		out.QueueSize = te.QueueSize
		out.HistorySize = te.HistorySize
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
