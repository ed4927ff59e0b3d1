package para

// Heap is a binary min-heap over a strict less-than comparator.
//
// Unlike container/heap, elements are located by identity, so any element may
// be removed without the caller tracking its index. The capacity is fixed
// unless a growth increment is configured, in which case a push onto a full
// heap extends the capacity by exactly that increment.
type Heap[E comparable] struct {
	less  func(a, b E) bool
	items []E
	limit int
	grow  int
}

// NewHeap returns an empty heap with the given capacity and growth increment.
// A zero increment makes the heap bounded.
func NewHeap[E comparable](capacity, grow int, less func(a, b E) bool) *Heap[E] {
	if capacity < 0 {
		capacity = 0
	}
	if grow < 0 {
		grow = 0
	}
	return &Heap[E]{
		less:  less,
		items: make([]E, 0, capacity),
		limit: capacity,
		grow:  grow,
	}
}

// Len returns the number of elements held.
func (h *Heap[E]) Len() int { return len(h.items) }

// Cap returns the current capacity.
func (h *Heap[E]) Cap() int { return h.limit }

// Push inserts el, returning [ErrHeapFull] if the heap is full and growth is
// disabled.
func (h *Heap[E]) Push(el E) error {
	if len(h.items) == h.limit {
		if h.grow == 0 {
			return ErrHeapFull
		}
		h.limit += h.grow
		items := make([]E, len(h.items), h.limit)
		copy(items, h.items)
		h.items = items
	}
	h.items = append(h.items, el)
	h.repair(len(h.items) - 1)
	return nil
}

// Peek returns the minimum element without removing it.
func (h *Heap[E]) Peek() (el E, ok bool) {
	if len(h.items) == 0 {
		return
	}
	return h.items[0], true
}

// Pop removes and returns the minimum element.
func (h *Heap[E]) Pop() (E, error) {
	var zero E
	n := len(h.items)
	if n == 0 {
		return zero, ErrHeapEmpty
	}
	el := h.items[0]
	h.swap(0, n-1)
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	h.down(0)
	return el, nil
}

// Remove deletes the first element equal to el, reporting whether one was
// found. The search is linear.
func (h *Heap[E]) Remove(el E) bool {
	var zero E
	for i, v := range h.items {
		if v != el {
			continue
		}
		last := len(h.items) - 1
		h.swap(i, last)
		h.items[last] = zero
		h.items = h.items[:last]
		if i < last {
			h.repair(i)
		}
		return true
	}
	return false
}

// repair restores the heap property for the element at i, which may be out
// of order relative to either its parent or its children, but not both.
func (h *Heap[E]) repair(i int) {
	if i > 0 && h.less(h.items[i], h.items[(i-1)/2]) {
		h.up(i)
	} else {
		h.down(i)
	}
}

func (h *Heap[E]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *Heap[E]) down(i int) {
	n := len(h.items)
	for {
		least := i
		if l := 2*i + 1; l < n && h.less(h.items[l], h.items[least]) {
			least = l
		}
		if r := 2*i + 2; r < n && h.less(h.items[r], h.items[least]) {
			least = r
		}
		if least == i {
			return
		}
		h.swap(i, least)
		i = least
	}
}

func (h *Heap[E]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}
