package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"cronjobs/internal/task/engine"
	logx "cronjobs/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// isAdmissionErr reports whether err came from the engine refusing a task
// rather than from the task itself.
func isAdmissionErr(err error) bool {
	return errors.Is(err, engine.ErrDisabled) ||
		errors.Is(err, engine.ErrStopped) ||
		errors.Is(err, engine.ErrStopping) ||
		errors.Is(err, engine.ErrQueueFull) ||
		errors.Is(err, engine.ErrOverlapSkip)
}

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips can happen during normal operation.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Any("err", err))
		return
	}

	s.enqMu.Lock()
	st, ok := s.enqWarn[name]
	if !ok {
		st = &rate.Sometimes{Interval: enqueueWarnThrottle}
		s.enqWarn[name] = st
	}
	s.enqMu.Unlock()

	// Queue full / stopping are important but can be bursty.
	st.Do(func() {
		s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Any("err", err))
	})
}
