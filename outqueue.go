package para

import (
	"errors"
	"fmt"
)

// OutputQueue reorders completed responses, releasing them strictly in
// ascending line order.
type OutputQueue struct {
	heap *Heap[*Slot]
	next int64
}

// NewOutputQueue returns an empty queue expecting next as its first line.
// A zero growth increment bounds the queue at capacity.
func NewOutputQueue(capacity, grow int, next int64) *OutputQueue {
	return &OutputQueue{
		heap: NewHeap(capacity, grow, func(a, b *Slot) bool { return a.line < b.line }),
		next: next,
	}
}

// Len returns the number of held responses.
func (q *OutputQueue) Len() int { return q.heap.Len() }

// Cap returns the current capacity.
func (q *OutputQueue) Cap() int { return q.heap.Cap() }

// Next returns the line number that must be released next.
func (q *OutputQueue) Next() int64 { return q.next }

// Push inserts a response, failing with [ErrReorderFull] if the queue is at
// capacity and growth is disabled.
func (q *OutputQueue) Push(s *Slot) error {
	if err := q.heap.Push(s); err != nil {
		if errors.Is(err, ErrHeapFull) {
			return fmt.Errorf(`%w: capacity %d`, ErrReorderFull, q.heap.Cap())
		}
		return err
	}
	return nil
}

// Peek returns the lowest-numbered response, or nil.
func (q *OutputQueue) Peek() *Slot {
	s, _ := q.heap.Peek()
	return s
}

// Pop removes the lowest-numbered response and advances the expected line.
func (q *OutputQueue) Pop() (*Slot, error) {
	s, err := q.heap.Pop()
	if err != nil {
		return nil, err
	}
	q.next++
	return s, nil
}

// Ready reports whether the lowest-numbered response is the expected line.
func (q *OutputQueue) Ready() bool {
	s := q.Peek()
	return s != nil && s.line == q.next
}
