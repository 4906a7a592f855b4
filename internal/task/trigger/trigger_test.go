package trigger

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestNextExecutionTimeWithLastCompletion(t *testing.T) {
	t.Parallel()
	calc := NewDelay(2000 * time.Millisecond)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got := calc.NextExecutionTime(t0)
	want := t0.Add(2000 * time.Millisecond)
	if !got.Equal(want) {
		t.Fatalf("NextExecutionTime(t0) = %v, want %v", got, want)
	}
}

func TestNextExecutionTimeWithoutLastCompletion(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	t1 := time.Date(2024, 3, 1, 23, 54, 58, 0, time.UTC)
	mock.Set(t1)
	calc := NewDelay(2*time.Second, WithClock(mock))

	got := calc.NextExecutionTime(time.Time{})
	if want := t1.Add(2 * time.Second); !got.Equal(want) {
		t.Fatalf("NextExecutionTime(absent) = %v, want %v", got, want)
	}
}

func TestNextExecutionTimeRealClockTolerance(t *testing.T) {
	t.Parallel()
	calc := NewDelay(2 * time.Second)
	before := time.Now()
	got := calc.NextExecutionTime(time.Time{})
	after := time.Now()

	if got.Before(before.Add(2*time.Second)) || got.After(after.Add(2*time.Second)) {
		t.Fatalf("NextExecutionTime(absent) = %v, want within [%v, %v]", got, before.Add(2*time.Second), after.Add(2*time.Second))
	}
}

func TestNextExecutionTimeExactForAnyTimestamp(t *testing.T) {
	t.Parallel()
	delays := []time.Duration{time.Millisecond, 2 * time.Second, 90 * time.Minute}
	stamps := []time.Time{
		time.Unix(0, 0).UTC(),
		time.Date(1999, 12, 31, 23, 59, 59, 999_999_999, time.UTC),
		time.Date(2030, 6, 15, 8, 30, 0, 123, time.FixedZone("X", 7*3600)),
	}
	for _, d := range delays {
		calc := NewDelay(d)
		for _, ts := range stamps {
			if got := calc.NextExecutionTime(ts); !got.Equal(ts.Add(d)) {
				t.Fatalf("delay %v: NextExecutionTime(%v) = %v, want %v", d, ts, got, ts.Add(d))
			}
		}
	}
}

func TestNextExecutionTimeMonotonic(t *testing.T) {
	t.Parallel()
	calc := NewDelay(2 * time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := calc.NextExecutionTime(base)
	for i := 1; i < 50; i++ {
		next := calc.NextExecutionTime(base.Add(time.Duration(i*i) * time.Millisecond))
		if next.Before(prev) {
			t.Fatalf("step %d: %v before %v", i, next, prev)
		}
		prev = next
	}
}

func TestNonPositiveDelayFallsBackToDefault(t *testing.T) {
	t.Parallel()
	if got := NewDelay(0).Delay(); got != DefaultDelay {
		t.Fatalf("Delay() = %v, want %v", got, DefaultDelay)
	}
	if got := NewDelay(-time.Second).Delay(); got != DefaultDelay {
		t.Fatalf("Delay() = %v, want %v", got, DefaultDelay)
	}
}

func TestTriggerUsesLastCompletion(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	fn := NewDelay(time.Second, WithClock(mock)).Trigger()

	if got := fn(Context{}); !got.Equal(mock.Now().Add(time.Second)) {
		t.Fatalf("first = %v", got)
	}
	done := mock.Now().Add(5 * time.Second)
	tc := Context{LastScheduled: done.Add(-time.Hour), LastActual: done.Add(-time.Minute), LastCompletion: done}
	if got := fn(tc); !got.Equal(done.Add(time.Second)) {
		t.Fatalf("next = %v, want %v", got, done.Add(time.Second))
	}
}

func TestFixedDelayFiresImmediatelyThenAfterCompletion(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	fn := FixedDelay(2*time.Second, mock)

	if got := fn(Context{}); !got.Equal(mock.Now()) {
		t.Fatalf("first = %v, want now (%v)", got, mock.Now())
	}
	done := mock.Now().Add(700 * time.Millisecond)
	if got := fn(Context{LastCompletion: done}); !got.Equal(done.Add(2 * time.Second)) {
		t.Fatalf("next = %v", got)
	}
}
