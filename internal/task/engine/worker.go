package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"cronjobs/internal/eventbus"
	logx "cronjobs/pkg/logx"
)

// slowRun is the duration above which a successful run logs at info.
const slowRun = 750 * time.Millisecond

func (s *Service) worker(ctx context.Context, quit <-chan struct{}, queue <-chan queuedTask) {
	for {
		// A closed quit wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			s.stats.inFlight.Add(1)
			_ = s.execOne(ctx, qt)
			s.stats.inFlight.Add(-1)
		}
	}
}

// execOne runs qt to completion and accounts for it. Queued tasks that
// waited past MaxQueueDelay are dropped instead of run.
func (s *Service) execOne(ctx context.Context, qt queuedTask) error {
	defer qt.releaseState()

	start := time.Now()
	var queueDelay time.Duration
	if qt.mode == ModeQueued {
		queueDelay = max(start.Sub(qt.enqueuedAt), 0)
	}

	s.mu.Lock()
	maxQueueDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxQueueDelay > 0 && queueDelay > maxQueueDelay {
		s.drop(qt, dropStale, queueDelay, logx.Duration("max_queue_delay", maxQueueDelay))
		return nil
	}

	t := qt.task
	ev := TaskEvent{ID: t.ID, Name: t.Name, Mode: string(qt.mode), Started: start, QueueDelay: queueDelay}
	s.log.Debug("task.started", logx.Task(t.Name), logx.String("mode", ev.Mode), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TaskStarted, start, ev)

	err := s.run(ctx, qt)
	ev.Duration = time.Since(start)
	s.finish(qt, ev, err)
	return err
}

// run calls the task under its timeout. A panic becomes the run's error.
func (s *Service) run(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.Task(qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// finish logs, publishes and records a completed run.
func (s *Service) finish(qt queuedTask, ev TaskEvent, err error) {
	outcome := classify(err)
	s.stats.finished(outcome)
	if err != nil {
		ev.Error = err.Error()
	}

	fields := []logx.Field{logx.Task(ev.Name), logx.String("mode", ev.Mode), logx.Duration("queue_delay", ev.QueueDelay), logx.Duration("dur", ev.Duration)}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	now := time.Now()
	switch outcome {
	case OutcomeOK:
		if ev.Duration >= slowRun {
			s.log.Info("task.completed", fields...)
		} else {
			s.log.Debug("task.completed", fields...)
		}
		s.publish(eventbus.TaskFinished, now, ev)
	case OutcomeInterrupted:
		s.log.Info("task.interrupted", fields...)
		s.publish(eventbus.TaskInterrupted, now, ev)
	default:
		s.log.Warn("task.failed", fields...)
		s.publish(eventbus.TaskFailed, now, ev)
	}

	s.record(HistoryItem{
		ID:         ev.ID,
		Name:       ev.Name,
		Mode:       qt.mode,
		Started:    ev.Started,
		QueueDelay: ev.QueueDelay,
		Duration:   ev.Duration,
		Outcome:    outcome,
		Error:      ev.Error,
	})
}
