package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"cronjobs/internal/task/engine"
	"cronjobs/internal/task/trigger"
	logx "cronjobs/pkg/logx"
)

func newTestScheduler(t *testing.T, opts ...Option) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, eng
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// advanceUntil moves the mock clock forward in small steps until cond holds.
func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s (mock now %s)", what, mock.Now())
		}
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
}

type runLog struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *runLog) add(at time.Time) {
	r.mu.Lock()
	r.times = append(r.times, at)
	r.mu.Unlock()
}

func (r *runLog) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

func (r *runLog) len() int { return len(r.snapshot()) }

func noop(context.Context) error { return nil }

func TestRateScheduleKeepsCadence(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRateSchedule(2 * time.Second)

	steps := []struct {
		at   time.Time
		want time.Time
	}{
		{at: t0, want: t0},
		{at: t0.Add(10 * time.Millisecond), want: t0.Add(2 * time.Second)},
		// A late tick keeps the cadence.
		{at: t0.Add(2500 * time.Millisecond), want: t0.Add(4 * time.Second)},
		{at: t0.Add(4 * time.Second), want: t0.Add(6 * time.Second)},
		// Missed ticks are skipped, not replayed.
		{at: t0.Add(11 * time.Second), want: t0.Add(12 * time.Second)},
	}
	for i, st := range steps {
		if got := r.Next(st.at); !got.Equal(st.want) {
			t.Fatalf("step %d: Next(%s) = %s, want %s", i, st.at, got, st.want)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)

	if _, err := s.RegisterFixedDelay(" ", time.Second, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := s.RegisterFixedDelay("a", time.Second, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
	if _, err := s.RegisterFixedDelay("a", 0, noop); err == nil {
		t.Fatal("expected error for zero delay")
	}
	if _, err := s.RegisterFixedRate("a", -time.Second, noop); err == nil {
		t.Fatal("expected error for negative rate")
	}
	if _, err := s.RegisterCron("a", "not a cron", noop); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	if _, err := s.RegisterDynamicTrigger("a", nil, noop); err == nil {
		t.Fatal("expected error for nil trigger")
	}
	if _, err := s.RegisterSchedule("a", "nope", noop); err == nil {
		t.Fatal("expected error for bad schedule")
	}
	if got := len(s.Names()); got != 0 {
		t.Fatalf("failed registrations left %d schedules behind", got)
	}
}

func TestRegisterUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if _, err := s.RegisterFixedRate("job", time.Second, noop); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterSchedule("job", "delay:2s", noop); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterSchedule("other", "0 55 23 * * ?", noop); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 2 {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Schedules[0].Name != "job" || snap.Schedules[0].Kind != KindFixedDelay {
		t.Fatalf("upsert kept stale definition: %+v", snap.Schedules[0])
	}
	if snap.Schedules[1].Kind != KindCron || snap.Running {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if !s.Remove("job") {
		t.Fatal("Remove(job) = false")
	}
	if s.Remove("job") {
		t.Fatal("second Remove(job) = true")
	}
}

func TestCronExpressionNextRun(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t)
	if _, err := s.RegisterCron("nightly", "0 55 23 * * ?", noop); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	s.Start(context.Background())

	var next time.Time
	waitFor(t, "cron next run", func() bool {
		next = s.Snapshot().Schedules[0].Next
		return !next.IsZero()
	})
	next = next.UTC()
	if next.Hour() != 23 || next.Minute() != 55 || next.Second() != 0 {
		t.Fatalf("next run = %s, want 23:55:00", next)
	}
	if !next.After(time.Now()) {
		t.Fatalf("next run %s is not in the future", next)
	}
}

func TestFixedDelayWaitsForCompletion(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	s, _ := newTestScheduler(t, WithClock(mock))

	runs := &runLog{}
	if _, err := s.RegisterFixedDelay("fixed-delay", 2*time.Second, func(ctx context.Context) error {
		runs.add(mock.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	start := mock.Now()
	s.Start(context.Background())

	// First run does not wait for the clock.
	waitFor(t, "first run", func() bool { return runs.len() == 1 })
	advanceUntil(t, mock, 250*time.Millisecond, "three runs", func() bool { return runs.len() >= 3 })

	got := runs.snapshot()
	if !got[0].Equal(start) {
		t.Fatalf("first run at %s, want %s", got[0], start)
	}
	for i := 1; i < len(got); i++ {
		if gap := got[i].Sub(got[i-1]); gap < 2*time.Second {
			t.Fatalf("runs %d and %d only %s apart", i-1, i, gap)
		}
	}

	info := s.Snapshot().Schedules[0]
	if info.Prev.IsZero() || info.Kind != KindFixedDelay {
		t.Fatalf("unexpected schedule info: %+v", info)
	}
}

func TestDynamicTriggerUsesLastCompletion(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	s, _ := newTestScheduler(t, WithClock(mock))

	calc := trigger.NewDelay(2*time.Second, trigger.WithClock(mock))
	var (
		mu   sync.Mutex
		seen []trigger.Context
	)
	fn := func(tc trigger.Context) time.Time {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tc)
		if len(seen) > 3 {
			return time.Time{} // end the line after three runs
		}
		return calc.Trigger()(tc)
	}

	runs := &runLog{}
	if _, err := s.RegisterDynamicTrigger("dynamic", fn, func(ctx context.Context) error {
		runs.add(mock.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	start := mock.Now()
	s.Start(context.Background())

	advanceUntil(t, mock, 250*time.Millisecond, "three runs", func() bool { return runs.len() >= 3 })
	waitFor(t, "line end", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	})

	got := runs.snapshot()
	if len(got) != 3 {
		t.Fatalf("runs = %d, want 3", len(got))
	}
	if gap := got[0].Sub(start); gap < 2*time.Second {
		t.Fatalf("first run only %s after start", gap)
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen[0].LastCompletion.IsZero() {
		t.Fatalf("first trigger context not empty: %+v", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		tc := seen[i]
		if tc.LastScheduled.IsZero() || tc.LastActual.Before(tc.LastScheduled) || tc.LastCompletion.Before(tc.LastActual) {
			t.Fatalf("trigger context %d out of order: %+v", i, tc)
		}
		if i < len(got) && got[i].Sub(tc.LastCompletion) < 2*time.Second {
			t.Fatalf("run %d at %s, less than delay after completion %s", i, got[i], tc.LastCompletion)
		}
	}
	if info := s.Snapshot().Schedules[0]; !info.Next.IsZero() {
		t.Fatalf("finished line still reports next run %s", info.Next)
	}
}

func TestFixedRateAsyncOverlaps(t *testing.T) {
	t.Parallel()
	s, eng := newTestScheduler(t)

	var live, peak atomic.Int32
	release := make(chan struct{})
	if _, err := s.RegisterFixedRate("fixed-rate-async", 20*time.Millisecond, func(ctx context.Context) error {
		n := live.Add(1)
		defer live.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, Async(), WithOverlap(OverlapAllow)); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	// More overlapping runs than pool workers.
	waitFor(t, "three overlapping runs", func() bool { return peak.Load() >= 3 })
	close(release)
	waitFor(t, "runs to finish", func() bool { return eng.Snapshot().Completed >= 3 })
}

func TestFixedRateOverlapsOnWorkerPool(t *testing.T) {
	t.Parallel()
	s, eng := newTestScheduler(t)

	var live, peak atomic.Int32
	release := make(chan struct{})
	if _, err := s.RegisterFixedRate("fixed-rate", 20*time.Millisecond, func(ctx context.Context) error {
		n := live.Add(1)
		defer live.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, WithOverlap(OverlapAllow)); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	// A run outlasting its period does not hold back the next tick: both
	// pool workers end up busy with the same schedule.
	waitFor(t, "two overlapping runs", func() bool { return peak.Load() >= 2 })
	snap := eng.Snapshot()
	if snap.InFlight != 2 || snap.AsyncInFlight != 0 {
		t.Fatalf("InFlight=%d AsyncInFlight=%d, want 2/0", snap.InFlight, snap.AsyncInFlight)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak = %d with 2 workers", peak.Load())
	}

	close(release)
	waitFor(t, "runs to finish", func() bool { return eng.Snapshot().Completed >= 2 })
	for _, h := range eng.Snapshot().History {
		if h.Mode != engine.ModeQueued {
			t.Fatalf("history mode = %s, want queued", h.Mode)
		}
	}
}

func TestCronTickSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s, eng := newTestScheduler(t)

	var calls atomic.Int32
	release := make(chan struct{})
	if _, err := s.RegisterFixedRate("serial", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	waitFor(t, "first run", func() bool { return calls.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d while first run in flight, want 1", got)
	}
	close(release)
	waitFor(t, "more runs", func() bool { return eng.Snapshot().Completed >= 2 })
}

func TestRemoveCancelsRunningLine(t *testing.T) {
	t.Parallel()
	s, eng := newTestScheduler(t)

	started := make(chan struct{})
	result := make(chan error, 1)
	if _, err := s.RegisterFixedDelay("blocker", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	<-started

	if !s.Remove("blocker") {
		t.Fatal("Remove = false")
	}
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run ended with %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run was not canceled")
	}
	waitFor(t, "interrupted count", func() bool { return eng.Snapshot().Interrupted == 1 })
	if n := len(s.Snapshot().Schedules); n != 0 {
		t.Fatalf("schedules after Remove = %d", n)
	}
}

func TestStopThenStartResumesSchedules(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	s, _ := newTestScheduler(t, WithClock(mock))

	runs := &runLog{}
	if _, err := s.RegisterFixedDelay("fixed-delay", time.Second, func(ctx context.Context) error {
		runs.add(mock.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	waitFor(t, "first run", func() bool { return runs.len() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Running() {
		t.Fatal("Running after Stop")
	}

	s.Start(context.Background())
	waitFor(t, "run after restart", func() bool { return runs.len() == 2 })
}
