package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"cronjobs/internal/eventbus"
	rtsup "cronjobs/internal/runtime/supervisor"
	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/trigger"
	logx "cronjobs/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ for cron expressions, e.g. "Asia/Jakarta"
}

// Job is the body of a scheduled task.
type Job = func(ctx context.Context) error

// Re-export execution types from engine.
type OverlapPolicy = engine.OverlapPolicy

type TaskOptions = engine.TaskOptions

type HistoryItem = engine.HistoryItem

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Kind is the kind of a registered schedule.
type Kind string

const (
	KindFixedDelay Kind = "fixed_delay"
	KindFixedRate  Kind = "fixed_rate"
	KindCron       Kind = "cron"
	KindTrigger    Kind = "trigger"
)

// onLine reports whether the kind runs on its own timer line.
func (k Kind) onLine() bool { return k == KindFixedDelay || k == KindTrigger }

type scheduleDef struct {
	id      string
	name    string
	kind    Kind
	spec    string // human-readable: cron expr, "@every 2s", "delay 2s", "trigger"
	every   time.Duration
	cron    cron.Schedule // parsed cron expression (KindCron)
	trigger trigger.Func  // KindTrigger

	timeout time.Duration
	job     Job
	opt     TaskOptions
	async   bool
	state   *engine.RunState

	entryID cron.EntryID
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock timer lines wait on. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// JobOption configures a single registration.
type JobOption func(*scheduleDef)

// WithTimeout bounds each run. Zero uses the engine default.
func WithTimeout(timeout time.Duration) JobOption {
	return func(d *scheduleDef) { d.timeout = timeout }
}

// WithOverlap sets the overlap policy for cron and fixed-rate ticks.
// Timer lines never overlap regardless of this setting.
func WithOverlap(p OverlapPolicy) JobOption {
	return func(d *scheduleDef) { d.opt.Overlap = p }
}

// Async runs each tick on its own goroutine instead of a pool worker.
// Only meaningful for fixed-rate and cron schedules.
func Async() JobOption {
	return func(d *scheduleDef) { d.async = true }
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	clock clock.Clock

	engine *engine.Service

	c    *cron.Cron
	defs []scheduleDef

	// Timer lines; sup is non-nil while started.
	sup   *rtsup.Supervisor
	lines map[string]*line

	// Enqueue error throttling: key is schedule name.
	enqMu   sync.Mutex
	enqWarn map[string]*rate.Sometimes
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Kind    Kind
	Spec    string
	Timeout time.Duration
	Async   bool
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string

	// Executor diagnostics (task engine).
	Workers          int
	InFlight         int
	AsyncInFlight    int
	QueueLen         int
	QueueCap         int
	Completed        uint64
	Failed           uint64
	Interrupted      uint64
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	DefaultTimeout   time.Duration
	MaxQueueDelay    time.Duration

	Schedules []ScheduleInfo
	History   []HistoryItem
}
