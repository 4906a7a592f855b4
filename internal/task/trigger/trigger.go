// Package trigger computes next execution instants for timer lines.
//
// A trigger is a plain function value: the scheduler hands it the outcome of
// the previous run and gets back the instant of the next one.
package trigger

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDelay is used when a calculator is built with a non-positive delay.
const DefaultDelay = 2000 * time.Millisecond

// Context describes the previous run of a timer line. Zero values mean
// "absent" (no run has happened yet).
type Context struct {
	LastScheduled  time.Time
	LastActual     time.Time
	LastCompletion time.Time
}

// Func returns the next execution instant for a line. A zero return value
// ends the line.
type Func func(tc Context) time.Time

// Calculator adds a fixed delay to the last completion time, or to "now" when
// there is none.
type Calculator struct {
	delay time.Duration
	clock clock.Clock
}

type Option func(*Calculator)

// WithClock overrides the wall clock (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option {
	return func(calc *Calculator) {
		if c != nil {
			calc.clock = c
		}
	}
}

func NewDelay(delay time.Duration, opts ...Option) *Calculator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	c := &Calculator{delay: delay, clock: clock.New()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Calculator) Delay() time.Duration { return c.delay }

// NextExecutionTime returns last+delay, or now+delay if last is zero.
// The clock is read only in the latter case.
func (c *Calculator) NextExecutionTime(last time.Time) time.Time {
	base := last
	if base.IsZero() {
		base = c.clock.Now()
	}
	return base.Add(c.delay)
}

// Trigger adapts the calculator to the scheduler's trigger contract.
func (c *Calculator) Trigger() Func {
	return func(tc Context) time.Time {
		return c.NextExecutionTime(tc.LastCompletion)
	}
}

// FixedDelay fires immediately on the first query and then interval after
// each completion.
func FixedDelay(interval time.Duration, clk clock.Clock) Func {
	if clk == nil {
		clk = clock.New()
	}
	return func(tc Context) time.Time {
		if tc.LastCompletion.IsZero() {
			return clk.Now()
		}
		return tc.LastCompletion.Add(interval)
	}
}
