package para

import (
	"fmt"
)

// Pool is an arena of slots with a free-index stack. Slots are never
// released individually, and each remains addressable by its index for the
// lifetime of the pool.
type Pool struct {
	slots    []*Slot
	free     []int
	capacity int
}

// NewPool returns a pool with size preallocated slots, each owning a buffer
// of the given capacity. The pool grows by one slot whenever Get finds the
// free stack empty.
func NewPool(size, capacity int) *Pool {
	p := &Pool{
		slots:    make([]*Slot, 0, size),
		free:     make([]int, 0, size),
		capacity: capacity,
	}
	for range size {
		p.add()
	}
	return p
}

func (p *Pool) add() {
	i := len(p.slots)
	s := newSlot(i, p.capacity)
	s.free = true
	p.slots = append(p.slots, s)
	p.free = append(p.free, i)
}

// Len returns the total number of slots, in use or free.
func (p *Pool) Len() int { return len(p.slots) }

// Free returns the number of slots available without growing.
func (p *Pool) Free() int { return len(p.free) }

// Get pops a free slot, reinitialized for the endpoint and mode.
func (p *Pool) Get(ep Endpoint, mode SlotMode) *Slot {
	if len(p.free) == 0 {
		p.add()
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	s := p.slots[i]
	s.free = false
	s.ep = ep
	s.worker = NoWorker
	if mode == Reading {
		s.ClearToRead()
		s.line = LineUnset
	} else {
		s.ClearToWrite()
	}
	return s
}

// Put returns a slot to the free stack.
func (p *Pool) Put(s *Slot) error {
	if s.index < 0 || s.index >= len(p.slots) || p.slots[s.index] != s {
		return fmt.Errorf(`%w: slot %d does not belong to pool`, ErrSlotState, s.index)
	}
	if s.free {
		return fmt.Errorf(`%w: slot %d`, ErrDoublePut, s.index)
	}
	s.free = true
	s.ep = nil
	s.worker = NoWorker
	p.free = append(p.free, s.index)
	return nil
}

// At returns the slot at index i.
func (p *Pool) At(i int) *Slot { return p.slots[i] }
