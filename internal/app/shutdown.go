package app

import (
	"context"
	"fmt"
	"time"

	logx "cronjobs/pkg/logx"
)

const (
	stepTimeout = 2 * time.Second
	slowStep    = 500 * time.Millisecond
)

// shutdownStep is one bounded stage of Stop. fn must return once its
// context is done.
type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// Stop winds the app down: scheduler first so no new runs start, then the
// engine, which cancels in-flight runs, then the remaining supervised
// goroutines. Each stage is bounded by stepTimeout and by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	steps := []shutdownStep{
		{"scheduler", func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"taskengine", func(c context.Context) error { a.engine.Stop(c); return nil }},
		{"supervisor", a.sup.Wait},
	}
	for _, st := range steps {
		a.runStep(ctx, st)
	}

	snap := a.sched.Snapshot()
	a.log.Info("stopped",
		logx.Uint64("completed", snap.Completed),
		logx.Uint64("failed", snap.Failed),
		logx.Uint64("interrupted", snap.Interrupted),
		logx.Uint64("dropped", snap.Dropped),
		logx.Int("schedules", len(snap.Schedules)),
		logx.Uint64("events_dropped", a.bus.Dropped()),
		logx.Uint64("panics", a.sup.Counters().Panics),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// runStep runs st under a deadline that never outlives ctx. A step that
// ignores its deadline is logged and left behind.
func (a *App) runStep(ctx context.Context, st shutdownStep) {
	start := time.Now()
	c, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", st.name, r)
			}
		}()
		done <- st.fn(c)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", st.name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= slowStep {
			a.log.Info("stop step end", logx.String("name", st.name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", st.name), logx.Duration("took", took))
		}
	case <-c.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", st.name), logx.Err(c.Err()), logx.Duration("elapsed", time.Since(start)))
	}
}
