package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration string. Empty means 0.
// Errors are prefixed with path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Timeouts returns the parsed default_timeout and max_queue_delay.
// A nil receiver yields zeros (both disabled).
func (te *TaskEngineConfig) Timeouts() (defaultTimeout, maxQueueDelay time.Duration, err error) {
	if te == nil {
		return 0, 0, nil
	}
	if defaultTimeout, err = ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return 0, 0, err
	}
	if maxQueueDelay, err = ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return 0, 0, err
	}
	return defaultTimeout, maxQueueDelay, nil
}
