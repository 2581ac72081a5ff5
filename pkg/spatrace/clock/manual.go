package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Time only moves when
// Advance or Set is called; due tasks run synchronously, in deadline order,
// with ties broken by scheduling order.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks taskHeap
}

// NewManual creates a fake clock at offset zero.
func NewManual() *Manual {
	return &Manual{}
}

// Now returns the fake current time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn at Now()+d. Nothing runs until the clock is
// advanced or flushed.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTask{at: m.now + d, seq: m.seq, fn: fn, clock: m, index: -1}
	heap.Push(&m.tasks, t)
	return t
}

// Pending returns the number of scheduled tasks that have not run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks.Len()
}

// Flush runs every task due at the current time, including zero-delay tasks
// scheduled by the tasks it runs. Returns the number of tasks run.
func (m *Manual) Flush() int {
	return m.runUntil(m.Now())
}

// Tick runs only the tasks that are due right now, not the ones they
// schedule. It models one turn of the event loop. Returns the number of
// tasks run; a task stopped by an earlier one in the same turn is skipped.
func (m *Manual) Tick() int {
	m.mu.Lock()
	var due []*manualTask
	for m.tasks.Len() > 0 && m.tasks[0].at <= m.now {
		t := heap.Pop(&m.tasks).(*manualTask)
		t.batched = true
		due = append(due, t)
	}
	m.mu.Unlock()

	ran := 0
	for _, t := range due {
		// An earlier task in the turn may have stopped this one.
		m.mu.Lock()
		live := t.batched
		t.batched = false
		m.mu.Unlock()
		if !live {
			continue
		}
		t.fn()
		ran++
	}
	return ran
}

// Advance moves time forward by d, running each task as its deadline is
// reached. Returns the number of tasks run.
func (m *Manual) Advance(d time.Duration) int {
	return m.runUntil(m.Now() + d)
}

// Elapse moves time forward by d without running anything, the way time
// passes while synchronous code holds the thread. Due tasks run at the next
// Tick, Flush or Advance.
func (m *Manual) Elapse(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Set moves time forward to the absolute offset at. Moving backwards is
// ignored.
func (m *Manual) Set(at time.Duration) int {
	return m.runUntil(at)
}

func (m *Manual) runUntil(target time.Duration) int {
	ran := 0
	for {
		m.mu.Lock()
		if m.tasks.Len() == 0 || m.tasks[0].at > target {
			if target > m.now {
				m.now = target
			}
			m.mu.Unlock()
			return ran
		}
		t := heap.Pop(&m.tasks).(*manualTask)
		if t.at > m.now {
			m.now = t.at
		}
		m.mu.Unlock()

		t.fn()
		ran++
	}
}

type manualTask struct {
	at    time.Duration
	seq   uint64
	fn    func()
	clock *Manual
	index int

	// batched marks a task popped by Tick that has not run yet.
	batched bool
}

func (t *manualTask) Stop() bool {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.batched {
		t.batched = false
		return true
	}
	if t.index < 0 {
		return false
	}
	heap.Remove(&m.tasks, t.index)
	return true
}

type taskHeap []*manualTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*manualTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
