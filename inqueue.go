package para

// InputQueue is the FIFO of lines read from input but not yet dispatched.
// Push assigns line numbers, which are strictly increasing with no gaps.
type InputQueue struct {
	items []*Slot
	head  int
	next  int64
}

// NewInputQueue returns an empty queue that numbers lines from start.
func NewInputQueue(start int64) *InputQueue {
	return &InputQueue{next: start}
}

// Len returns the number of queued slots.
func (q *InputQueue) Len() int { return len(q.items) - q.head }

// NextLine returns the number the next pushed slot will receive.
func (q *InputQueue) NextLine() int64 { return q.next }

// Push appends s, assigning it the next line number.
func (q *InputQueue) Push(s *Slot) {
	s.line = q.next
	q.next++
	q.items = append(q.items, s)
}

// Pop removes the oldest slot.
func (q *InputQueue) Pop() (*Slot, error) {
	if q.Len() == 0 {
		return nil, ErrQueueEmpty
	}
	s := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return s, nil
}

// Front returns the oldest slot, or nil.
func (q *InputQueue) Front() *Slot {
	if q.Len() == 0 {
		return nil
	}
	return q.items[q.head]
}

// Back returns the newest slot, or nil.
func (q *InputQueue) Back() *Slot {
	if q.Len() == 0 {
		return nil
	}
	return q.items[len(q.items)-1]
}

// HasPartialTail reports whether the newest slot is still being read.
func (q *InputQueue) HasPartialTail() bool {
	s := q.Back()
	return s != nil && !s.ReadComplete()
}

// HasReadyHead reports whether the oldest slot holds a complete line.
func (q *InputQueue) HasReadyHead() bool {
	s := q.Front()
	return s != nil && s.ReadComplete()
}

// Discard removes up to n complete lines from the front, passing each to
// release, and returns how many were removed. It stops early at an empty
// queue or an incomplete line, so callers carry the remainder forward.
func (q *InputQueue) Discard(n uint64, release func(*Slot) error) (uint64, error) {
	var done uint64
	for done < n && q.HasReadyHead() {
		s, err := q.Pop()
		if err != nil {
			return done, err
		}
		done++
		if release != nil {
			if err := release(s); err != nil {
				return done, err
			}
		}
	}
	return done, nil
}
