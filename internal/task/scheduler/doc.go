// Package scheduler decides when jobs run and hands them to the task engine.
//
// Four kinds of schedule are supported:
//   - fixed delay: the next run starts a fixed interval after the previous one completed
//   - fixed rate: runs start on a fixed cadence counted from the previous scheduled start
//   - cron: runs start on the instants matched by a cron expression
//   - trigger: a trigger.Func computes each next instant from the previous run
//
// Fixed-rate and cron schedules are robfig/cron entries; each tick enqueues
// (or, for async jobs, dispatches) a task. Fixed-delay and trigger schedules
// each own a timer line: one goroutine that waits for the next instant on the
// injected clock and runs the job inline, so runs on a line never overlap.
package scheduler
