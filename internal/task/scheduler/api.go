package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/trigger"
	logx "cronjobs/pkg/logx"
)

// RegisterSchedule parses schedule and registers the matching kind.
//
// Supported schedule formats (see ParseSchedule):
//   - Cron: "0 55 23 * * ?", "*/5 * * * *", "@daily"
//   - Fixed rate: "2s", "@every 2s", "rate:2s", "00:50"
//   - Fixed delay: "delay:2s"
func (s *Service) RegisterSchedule(name, schedule string, job Job, opts ...JobOption) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.RegisterCron(name, ps.Cron, job, opts...)
	case SpecRate:
		return s.RegisterFixedRate(name, ps.Every, job, opts...)
	case SpecDelay:
		return s.RegisterFixedDelay(name, ps.Every, job, opts...)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// RegisterFixedDelay runs job immediately and then interval after each run
// completes. Runs never overlap.
func (s *Service) RegisterFixedDelay(name string, interval time.Duration, job Job, opts ...JobOption) (string, error) {
	return s.registerEvery(name, KindFixedDelay, "delay ", interval, job, opts)
}

// RegisterFixedRate runs job immediately and then every interval counted
// from the previous scheduled start. Ticks enqueue tasks into the engine,
// so with OverlapAllow a slow run does not delay the next one.
func (s *Service) RegisterFixedRate(name string, interval time.Duration, job Job, opts ...JobOption) (string, error) {
	return s.registerEvery(name, KindFixedRate, "@every ", interval, job, opts)
}

func (s *Service) registerEvery(name string, kind Kind, prefix string, interval time.Duration, job Job, opts []JobOption) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("%s %q: interval must be > 0", kind, name)
	}
	return s.register(scheduleDef{name: name, kind: kind, spec: prefix + interval.String(), every: interval, job: job}, opts)
}

// RegisterCron runs job at every instant matched by expr in the scheduler's
// timezone. Both 5-field and 6-field (leading seconds) forms are accepted.
func (s *Service) RegisterCron(name, expr string, job Job, opts ...JobOption) (string, error) {
	expr = strings.TrimSpace(expr)
	sched, err := ParseCron(expr)
	if err != nil {
		return "", fmt.Errorf("cron %q: %w", expr, err)
	}
	return s.register(scheduleDef{
		name: name,
		kind: KindCron,
		spec: expr,
		cron: sched,
		job:  job,
	}, opts)
}

// RegisterDynamicTrigger runs job at the instants returned by fn. fn is
// called once before the first run with a zero Context, and after each
// run with that run's scheduled, actual and completion times. Returning
// the zero time ends the schedule.
func (s *Service) RegisterDynamicTrigger(name string, fn trigger.Func, job Job, opts ...JobOption) (string, error) {
	if fn == nil {
		return "", errors.New("trigger required")
	}
	return s.register(scheduleDef{
		name:    name,
		kind:    KindTrigger,
		spec:    "trigger",
		trigger: fn,
		job:     job,
	}, opts)
}

// register upserts d by name and activates it if the scheduler is running.
func (s *Service) register(d scheduleDef, opts []JobOption) (string, error) {
	name := strings.TrimSpace(d.name)
	if name == "" {
		return "", errors.New("name required")
	}
	if d.job == nil {
		return "", errors.New("job required")
	}
	d.name = name
	// Cron and rate ticks default to skipping while a previous run is
	// in-flight (or queued), to avoid queue blow-ups.
	d.opt = TaskOptions{Overlap: OverlapSkipIfRunning}
	for _, o := range opts {
		if o != nil {
			o(&d)
		}
	}
	d.id = fmt.Sprintf("%s:%d", d.kind, time.Now().UnixNano())
	d.state = &engine.RunState{}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name: remove previous schedule with the same name to prevent
	// duplicates across hot-reloads or repeated registrations.
	_ = s.removeScheduleLocked(name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: keep the definition and activate it when Start() runs.
		return name, nil
	}
	cur := &s.defs[len(s.defs)-1]
	s.activateLocked(cur)

	args := []logx.Field{logx.String("name", name), logx.String("id", d.id), logx.String("kind", string(d.kind)), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout)}
	if d.kind == KindCron {
		if next := s.previewNextRunsLocked(d.cron, 4); next != "" {
			args = append(args, logx.String("next", next))
		}
	}
	s.log.Debug("schedule registered", args...)
	// Return the schedule name (stable identifier for Remove(name)).
	return name, nil
}

// Remove unschedules the schedule with the given name. It returns true if
// something was removed. A run in progress on a timer line is canceled.
// Safe to call even when the scheduler is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names returns the registered schedule names in registration order.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.name)
	}
	return out
}

// removeScheduleLocked removes all defs matching name, unregisters their
// cron entries and cancels their timer lines. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := s.stopLineLocked(name)
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	for i := n; i < len(s.defs); i++ {
		s.defs[i] = scheduleDef{}
	}
	s.defs = s.defs[:n]
	return removed
}

// activateLocked starts d on the running scheduler. Call with s.mu held.
func (s *Service) activateLocked(d *scheduleDef) {
	if d.kind.onLine() {
		if s.sup != nil {
			s.startLineLocked(*d)
		}
		return
	}
	s.addCronLocked(d)
}

func (s *Service) addCronLocked(d *scheduleDef) {
	def := *d
	job := cron.FuncJob(func() { s.tick(def) })

	var sched cron.Schedule
	switch d.kind {
	case KindFixedRate:
		sched = newRateSchedule(d.every)
	default:
		sched = d.cron
	}
	d.entryID = s.c.Schedule(sched, job)
}

// tick hands one cron or fixed-rate firing to the engine.
func (s *Service) tick(d scheduleDef) {
	if s.engine == nil {
		return
	}
	t := engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	}
	var err error
	if d.async {
		err = s.engine.Dispatch(t)
	} else {
		err = s.engine.Enqueue(t)
	}
	if err != nil {
		s.reportEnqueueError(d.name, err)
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run
// times for a cron schedule. Call with s.mu held.
func (s *Service) previewNextRunsLocked(sched cron.Schedule, n int) string {
	if sched == nil || n <= 0 {
		return ""
	}
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
