package scheduler

import (
	"sync"
	"time"
)

// rateSchedule is a cron.Schedule for fixed-rate jobs.
//
// The first Next returns its argument, so the job fires as soon as the
// entry is added. Every later instant is the previous scheduled instant
// plus every, independent of when (or whether) the previous run completed.
// Ticks missed while the process was stalled are skipped rather than
// replayed in a burst.
//
// cron.Every is not used because it counts from the time of the call and
// truncates to whole seconds.
type rateSchedule struct {
	every time.Duration

	mu   sync.Mutex
	next time.Time
}

func newRateSchedule(every time.Duration) *rateSchedule {
	return &rateSchedule{every: every}
}

func (r *rateSchedule) Next(t time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next.IsZero() {
		r.next = t
		return r.next
	}
	if !r.next.After(t) {
		missed := t.Sub(r.next) / r.every
		r.next = r.next.Add((missed + 1) * r.every)
	}
	return r.next
}
