package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cronjobs/internal/eventbus"
	rtsup "cronjobs/internal/runtime/supervisor"
	logx "cronjobs/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	cfg Config
	// Set by Start, cleared once a Stop completes. stopping is non-nil
	// while a Stop is waiting for goroutines.
	queue    chan queuedTask
	quit     chan struct{}
	stopping chan struct{}
	sup      *rtsup.Supervisor

	stateMu sync.Mutex
	states  map[string]*RunState

	stats   stats
	history history
	idSeq   atomic.Uint64

	dropWarn map[dropReason]*rate.Sometimes
}

type queuedTask struct {
	task Task
	mode Mode

	enqueuedAt time.Time
	timeout    time.Duration

	// state is held from admission until the run ends (SkipIfRunning only).
	state *RunState
}

func (qt queuedTask) releaseState() {
	if qt.state != nil {
		qt.state.release()
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    withDefaults(cfg),
		log:    log,
		bus:    bus,
		states: map[string]*RunState{},
		dropWarn: map[dropReason]*rate.Sometimes{
			dropQueueFull: {Interval: warnThrottleEvery},
			dropStale:     {Interval: warnThrottleEvery},
		},
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A running pool is restarted when its size or
// queue capacity changed; in-flight runs are interrupted by the restart.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.quit != nil && s.stopping == nil
	s.mu.Unlock()

	if running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the worker pool. It is a no-op when disabled or already
// running, and waits out a Stop in progress (bounded by ctx).
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.quit != nil {
		stopping := s.stopping
		s.mu.Unlock()
		if stopping == nil {
			return
		}
		select {
		case <-stopping:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.quit != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	queue := make(chan queuedTask, cfg.QueueSize)
	quit := make(chan struct{})
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.quit, s.sup = queue, quit, sup
	s.stats.inFlight.Store(0)
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, quit, queue)
			select {
			case <-quit:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop cancels in-flight tasks (their contexts are canceled) and waits for
// workers and async goroutines to return, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.quit == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		stopping := s.stopping
		s.mu.Unlock()
		select {
		case <-stopping:
		case <-ctx.Done():
		}
		return
	}
	stopping := make(chan struct{})
	s.stopping = stopping
	close(s.quit)
	sup := s.sup
	s.mu.Unlock()

	sup.Cancel()
	// The wait itself is unbounded so state is always reset; only the
	// caller's wait is bounded.
	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.quit, s.stopping, s.sup = nil, nil, nil, nil
		s.stats.inFlight.Store(0)
		s.mu.Unlock()
		close(stopping)
	}()

	select {
	case <-stopping:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Any("err", ctx.Err()), logx.Int("async_in_flight", sup.Running("async.")))
	}
}

// Enqueue hands a task to the worker pool without blocking. If the queue is
// full, the task is dropped.
func (s *Service) Enqueue(t Task) error {
	qt, queue, err := s.take(t, ModeQueued)
	if err != nil {
		return err
	}
	select {
	case queue <- qt:
		return nil
	default:
		qt.releaseState()
		s.drop(qt, dropQueueFull, 0, logx.Int("queue_len", len(queue)), logx.Int("queue_cap", cap(queue)))
		return ErrQueueFull
	}
}

// Dispatch runs a task on its own goroutine, outside the worker pool, so a
// slow run never holds up a worker or the caller. The number of concurrent
// dispatched runs is not bounded.
func (s *Service) Dispatch(t Task) error {
	t, err := s.prepare(t)
	if err != nil {
		return err
	}
	// Held across the goroutine start so Stop cannot begin waiting on the
	// supervisor between the running check and the registration.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.runningLocked(); err != nil {
		return err
	}
	qt, err := s.admit(t, ModeAsync, s.cfg)
	if err != nil {
		return err
	}
	s.stats.asyncInFlight.Add(1)
	s.sup.Go("async."+t.Name, func(ctx context.Context) error {
		defer s.stats.asyncInFlight.Add(-1)
		_ = s.execOne(ctx, qt)
		return nil
	})
	return nil
}

// Exec runs a task on the caller's goroutine and returns its error.
// Timer lines use it so they know when a run has completed.
func (s *Service) Exec(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	qt, _, err := s.take(t, ModeInline)
	if err != nil {
		return err
	}
	return s.execOne(ctx, qt)
}

// take validates t and admits it in the given mode. It returns the pool
// queue current at admission.
func (s *Service) take(t Task, mode Mode) (queuedTask, chan queuedTask, error) {
	t, err := s.prepare(t)
	if err != nil {
		return queuedTask{}, nil, err
	}
	s.mu.Lock()
	cfg, queue := s.cfg, s.queue
	err = s.runningLocked()
	s.mu.Unlock()
	if err != nil {
		return queuedTask{}, nil, err
	}
	qt, err := s.admit(t, mode, cfg)
	return qt, queue, err
}

func (s *Service) prepare(t Task) (Task, error) {
	if t.Run == nil {
		return t, errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return t, errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", time.Now().UnixNano(), s.idSeq.Add(1))
	}
	return t, nil
}

// runningLocked reports why the engine cannot take work. Call with s.mu held.
func (s *Service) runningLocked() error {
	switch {
	case !s.cfg.Enabled:
		return ErrDisabled
	case s.quit == nil:
		return ErrStopped
	case s.stopping != nil:
		return ErrStopping
	}
	return nil
}

// admit applies the default timeout and the overlap policy.
func (s *Service) admit(t Task, mode Mode, cfg Config) (queuedTask, error) {
	now := time.Now()
	qt := queuedTask{task: t, mode: mode, enqueuedAt: now, timeout: t.Timeout}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if t.Opt.withDefaults().Overlap != OverlapSkipIfRunning {
		return qt, nil
	}
	st := t.State
	if st == nil {
		st = s.stateFor(t.Name)
	}
	if !st.tryAcquire() {
		s.publish(eventbus.TaskSkipped, now, TaskEvent{ID: t.ID, Name: t.Name, Mode: string(mode), Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.Task(t.Name), logx.String("id", t.ID))
		return queuedTask{}, ErrOverlapSkip
	}
	qt.state = st
	return qt, nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, queue := s.cfg, s.queue
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Workers:        cfg.Workers,
		QueueLen:       len(queue),
		QueueCap:       cap(queue),
		DefaultTimeout: cfg.DefaultTimeout,
		MaxQueueDelay:  cfg.MaxQueueDelay,
		History:        s.history.list(),
	}
	s.stats.fill(&snap)
	return snap
}

// stateFor returns the shared overlap state for tasks without their own.
func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) publish(topic eventbus.Topic, at time.Time, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Task(topic, at, ev))
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	s.history.add(item, limit)
}

// drop accounts for a queued task that will never run. The warning is
// throttled per reason.
func (s *Service) drop(qt queuedTask, reason dropReason, queueDelay time.Duration, fields ...logx.Field) {
	now := time.Now()
	total := s.stats.dropped(reason)
	t := qt.task
	s.publish(eventbus.TaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Mode: string(ModeQueued), Started: now, QueueDelay: queueDelay, Error: string(reason)})
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Mode: ModeQueued, Started: now, QueueDelay: queueDelay, Outcome: OutcomeDropped, Error: string(reason)})

	s.dropWarn[reason].Do(func() {
		fields = append([]logx.Field{
			logx.Task(t.Name),
			logx.String("id", t.ID),
			logx.String("reason", string(reason)),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped", total),
		}, fields...)
		s.log.Warn("task dropped", fields...)
	})
}
