//go:build linux || darwin

package para

// worker is one entry of the slot table.
type worker struct {
	proc     Process
	deadline *Timer
	index    int
	// slot is the arena index of the worker's slot in the pool.
	slot     int
	interest IOEvents
	reaped   bool
}

// slotTable holds one slot per worker, fixed for the whole run.
type slotTable struct {
	workers []worker
	// next is where the round-robin dispatch scan starts.
	next int
}

func newSlotTable(n int) *slotTable {
	return &slotTable{workers: make([]worker, 0, n)}
}

func (t *slotTable) add(proc Process, slot int, deadline *Timer) {
	t.workers = append(t.workers, worker{
		proc:     proc,
		deadline: deadline,
		index:    len(t.workers),
		slot:     slot,
	})
}

func (t *slotTable) Len() int { return len(t.workers) }

// busy reports whether any worker is exchanging a line.
func (t *slotTable) busy() bool {
	for i := range t.workers {
		if t.workers[i].interest != 0 {
			return true
		}
	}
	return false
}
