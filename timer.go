package para

import (
	"fmt"
	"time"
)

// TimerKind distinguishes the timers held by a [TimerQueue].
type TimerKind uint8

const (
	// Heartbeat timers are reactivated every time they fire.
	Heartbeat TimerKind = iota
	// WorkerDeadline timers bound how long a worker may take to respond.
	// Firing one aborts the run.
	WorkerDeadline
)

func (k TimerKind) String() string {
	switch k {
	case Heartbeat:
		return "heartbeat"
	case WorkerDeadline:
		return "worker-deadline"
	default:
		return fmt.Sprintf("TimerKind(%d)", uint8(k))
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Timer is a deadline record. Key correlates the timer with its owner, the
// worker index for WorkerDeadline timers.
type Timer struct {
	deadline time.Time
	interval time.Duration
	key      int
	kind     TimerKind
	active   bool
}

// NewTimer returns an inactive timer.
func NewTimer(kind TimerKind, interval time.Duration, key int) *Timer {
	return &Timer{kind: kind, interval: interval, key: key}
}

func (t *Timer) Kind() TimerKind { return t.kind }

func (t *Timer) Key() int { return t.key }

func (t *Timer) Interval() time.Duration { return t.interval }

func (t *Timer) Deadline() time.Time { return t.deadline }

func (t *Timer) Active() bool { return t.active }

// Activate sets the deadline to now plus the interval.
func (t *Timer) Activate(now time.Time) {
	t.deadline = now.Add(t.interval)
	t.active = true
}

// Deactivate marks the timer dead. A queued inactive timer is discarded
// when it reaches the front of the queue.
func (t *Timer) Deactivate() {
	t.active = false
}

// TimerQueue orders timers by deadline.
type TimerQueue struct {
	heap *Heap[*Timer]
}

// NewTimerQueue returns an empty queue, initially sized for capacity timers
// and growing by the same amount.
func NewTimerQueue(capacity int) *TimerQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &TimerQueue{
		heap: NewHeap(capacity, capacity, func(a, b *Timer) bool { return a.deadline.Before(b.deadline) }),
	}
}

// Len returns the number of queued timers, including inactive ones.
func (q *TimerQueue) Len() int { return q.heap.Len() }

func (q *TimerQueue) Push(t *Timer) error { return q.heap.Push(t) }

// Remove eagerly deletes t, reporting whether it was queued.
func (q *TimerQueue) Remove(t *Timer) bool { return q.heap.Remove(t) }

// Front discards inactive timers at the head of the queue and returns the
// earliest live timer, or nil.
func (q *TimerQueue) Front() *Timer {
	for {
		t, ok := q.heap.Peek()
		if !ok {
			return nil
		}
		if t.active {
			return t
		}
		_, _ = q.heap.Pop()
	}
}

// Pop removes and returns the earliest live timer.
func (q *TimerQueue) Pop() (*Timer, error) {
	if q.Front() == nil {
		return nil, ErrHeapEmpty
	}
	return q.heap.Pop()
}

// NextWait returns the time remaining until the earliest live timer fires,
// clamped at zero. It reports false if there are no live timers.
func (q *TimerQueue) NextWait(now time.Time) (time.Duration, bool) {
	t := q.Front()
	if t == nil {
		return 0, false
	}
	return max(t.deadline.Sub(now), 0), true
}
