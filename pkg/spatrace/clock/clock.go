// Package clock abstracts the time source and deferred-task queue the
// interaction engine runs on.
//
// Two implementations are provided:
//   - Loop: a real single-goroutine event loop. Every task, timer callback
//     and posted function runs on the loop goroutine, one at a time, which
//     gives the engine the cooperative single-thread semantics it relies on.
//   - Manual: a fake clock for tests. Time moves only when Advance is called
//     and due timers run synchronously on the caller's goroutine.
//
// Timestamps are offsets from the scheduler's time origin.
package clock

import "time"

// Scheduler supplies the current time and runs deferred tasks.
type Scheduler interface {
	// Now returns the elapsed time since the scheduler's origin.
	Now() time.Duration

	// AfterFunc runs fn once, no earlier than d from now. Zero-delay tasks
	// run after the current task returns, never inline.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc task.
type Timer interface {
	// Stop cancels the task. It reports whether the call stopped the task
	// before it ran.
	Stop() bool
}

// Millis converts an offset to fractional milliseconds, the unit used in
// harvest payloads.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
