package engine

import (
	"context"
	"sync"
	"time"

	"cronjobs/internal/eventbus"
)

// Config controls the task execution engine.
//
// The scheduler is trigger-only; execution settings belong here.
// The app layer maps config.task_engine into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapSkipIfRunning:
		return "skip_if_running"
	default:
		return "unknown"
	}
}

type TaskOptions struct {
	Overlap OverlapPolicy
}

func (o TaskOptions) withDefaults() TaskOptions {
	if o.Overlap != OverlapAllow && o.Overlap != OverlapSkipIfRunning {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState tracks whether a task is already in-flight.
// "SkipIfRunning" means "skip if running OR already queued", which prevents
// queue blow-ups when a schedule triggers faster than execution.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Outcome classifies a finished task.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeDropped     Outcome = "dropped"
)

// Mode records how a task reached execution.
type Mode string

const (
	ModeQueued Mode = "queued" // pool worker
	ModeAsync  Mode = "async"  // dedicated goroutine
	ModeInline Mode = "inline" // caller's goroutine (timer lines)
)

type HistoryItem struct {
	ID         string
	Name       string
	Mode       Mode
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Outcome    Outcome
	Error      string
}

// TaskEvent is the payload published on the event bus for task lifecycle events.
type TaskEvent = eventbus.TaskEvent

// Task is a unit of work executed by the engine.
//
// SkipIfRunning uses State (if provided) to gate overlap.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int

	InFlight      int
	AsyncInFlight int

	Completed   uint64
	Failed      uint64
	Interrupted uint64

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	History []HistoryItem
}
