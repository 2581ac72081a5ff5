package clock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopStopped is returned by Post after the loop has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop is a real event loop. Tasks run serially on the goroutine that
// called Run.
type Loop struct {
	origin time.Time

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

// NewLoop creates a loop whose time origin is the current wall time.
func NewLoop() *Loop {
	return &Loop{
		origin: time.Now(),
		wake:   make(chan struct{}, 1),
	}
}

// Now returns the elapsed time since the loop was created.
func (l *Loop) Now() time.Duration {
	return time.Since(l.origin)
}

// Post enqueues fn to run on the loop goroutine. It never blocks, so it is
// safe to call from inside a running task.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop goroutine and waits for it to return.
// Do must not be called from a task already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	if d <= 0 {
		_ = l.Post(func() {
			if t.cancelled.CompareAndSwap(false, true) {
				fn()
			}
		})
		return t
	}

	t.timer = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if t.cancelled.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Run executes queued tasks until ctx is done. Tasks still queued at that
// point are dropped and later Posts fail with ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// loopTimer wins the race between Stop and the fire path with a single CAS.
type loopTimer struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}
