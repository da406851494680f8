package timectrl

import (
	"container/heap"
	"sync"
	"time"
)

// SimClock is the scheduling surface rate-control components depend on,
// rather than a concrete scheduler type. Callbacks registered through
// After run sequentially on the goroutine that advances the clock, so
// components built on it need no locking of their own as long as they are
// only driven through the scheduler.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After schedules fn to run once d has elapsed in simulation time.
	// The returned Timer can cancel the callback before it fires.
	After(d time.Duration, fn func()) *Timer
}

// Timer is a handle to a pending callback.
type Timer struct {
	at      time.Time
	seq     uint64
	fn      func()
	index   int
	stopped bool
	sched   *EventScheduler
}

// Stop cancels the timer. It is a no-op if the callback already ran or
// the timer was stopped before.
func (t *Timer) Stop() {
	if t == nil || t.sched == nil {
		return
	}
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.stopped || t.index < 0 {
		t.stopped = true
		return
	}
	heap.Remove(&t.sched.queue, t.index)
	t.stopped = true
}

// EventScheduler is a deterministic virtual-time event queue. Events fire
// in time order (insertion order within the same instant) when the owner
// advances the clock; nothing runs concurrently.
type EventScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	queue eventQueue
}

// NewEventScheduler constructs a scheduler whose clock starts at start.
func NewEventScheduler(start time.Time) *EventScheduler {
	return &EventScheduler{now: start}
}

// Now returns the current simulation time. Implements SimClock.
func (s *EventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// After schedules fn at Now()+d. Implements SimClock. A non-positive d
// fires on the next advance.
func (s *EventScheduler) After(d time.Duration, fn func()) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &Timer{
		at:    s.now.Add(d),
		seq:   s.seq,
		fn:    fn,
		sched: s,
	}
	heap.Push(&s.queue, t)
	return t
}

// AdvanceBy moves simulation time forward by d, firing every due callback
// in order. Callbacks run outside the scheduler lock so they can schedule
// follow-up events; it returns the number of callbacks fired.
func (s *EventScheduler) AdvanceBy(d time.Duration) int {
	s.mu.Lock()
	deadline := s.now.Add(d)
	s.mu.Unlock()
	return s.advanceTo(deadline)
}

func (s *EventScheduler) advanceTo(deadline time.Time) int {
	fired := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].at.After(deadline) {
			s.now = deadline
			s.mu.Unlock()
			return fired
		}
		t := heap.Pop(&s.queue).(*Timer)
		s.now = t.at
		s.mu.Unlock()

		t.fn()
		fired++
	}
}

// Pending returns the number of scheduled, un-fired timers.
func (s *EventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// eventQueue orders timers by firing time, then by scheduling order so
// that equal-time events remain deterministic.
type eventQueue []*Timer

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
