package scheduler

import (
	"context"
	"sync"
	"time"

	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/trigger"
	logx "cronjobs/pkg/logx"
)

// line is the runtime state of one fixed-delay or trigger schedule.
type line struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	prev time.Time
	next time.Time
}

func (l *line) set(prev, next time.Time) {
	l.mu.Lock()
	if !prev.IsZero() {
		l.prev = prev
	}
	l.next = next
	l.mu.Unlock()
}

func (l *line) times() (prev, next time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prev, l.next
}

// startLineLocked starts the timer line for d. Call with s.mu held and
// s.sup non-nil. An existing line with the same name is canceled first.
func (s *Service) startLineLocked(d scheduleDef) {
	s.stopLineLocked(d.name)

	fn := d.trigger
	if d.kind == KindFixedDelay {
		fn = trigger.FixedDelay(d.every, s.clock)
	}

	ctx, cancel := context.WithCancel(s.sup.Context())
	ln := &line{cancel: cancel}
	s.lines[d.name] = ln
	s.sup.Go("line."+d.name, func(context.Context) error {
		defer cancel()
		s.runLine(ctx, ln, d, fn)
		return nil
	})
}

func (s *Service) stopLineLocked(name string) bool {
	ln, ok := s.lines[name]
	if !ok {
		return false
	}
	ln.cancel()
	delete(s.lines, name)
	return true
}

// runLine asks the trigger for the next instant, waits for it, runs the job
// and feeds the run's times back into the trigger. A zero instant ends the
// line.
func (s *Service) runLine(ctx context.Context, ln *line, d scheduleDef, fn trigger.Func) {
	var tc trigger.Context
	for {
		next := fn(tc)
		if next.IsZero() {
			ln.set(time.Time{}, time.Time{})
			s.log.Info("schedule finished", logx.String("name", d.name), logx.String("kind", string(d.kind)))
			return
		}
		ln.set(time.Time{}, next)

		if wait := next.Sub(s.clock.Now()); wait > 0 {
			t := s.clock.Timer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		start := s.clock.Now()
		s.runInline(ctx, d)
		tc = trigger.Context{LastScheduled: next, LastActual: start, LastCompletion: s.clock.Now()}
		ln.set(start, time.Time{})

		if ctx.Err() != nil {
			return
		}
	}
}

// runInline runs one invocation through the engine on the line's goroutine.
// Job errors are logged by the engine; only admission errors are reported here.
func (s *Service) runInline(ctx context.Context, d scheduleDef) {
	if s.engine == nil {
		return
	}
	err := s.engine.Exec(ctx, engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     TaskOptions{Overlap: OverlapAllow},
	})
	if isAdmissionErr(err) {
		s.reportEnqueueError(d.name, err)
	}
}
