package para

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func completeSlot(t *testing.T, p *Pool, line string) *Slot {
	t.Helper()
	s := p.Get(&fakeEndpoint{reads: chunks(line)}, Reading)
	if _, err := s.ReadLine(true); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInputQueue_numbering(t *testing.T) {
	p := NewPool(0, 8)
	q := NewInputQueue(10)
	for _, line := range []string{"a\n", "b\n", "c"} {
		q.Push(completeSlot(t, p, line))
	}
	if q.Len() != 3 || q.NextLine() != 13 {
		t.Fatalf(`unexpected len=%d next=%d`, q.Len(), q.NextLine())
	}
	if !q.HasReadyHead() {
		t.Fatal(`expected ready head`)
	}
	if !q.HasPartialTail() {
		t.Fatal(`expected partial tail`)
	}
	var lines []int64
	for q.Len() != 0 {
		s, err := q.Pop()
		if err != nil {
			t.Fatal(err)
		}
		lines = append(lines, s.Line())
	}
	if diff := cmp.Diff([]int64{10, 11, 12}, lines); diff != `` {
		t.Fatalf("unexpected line numbers (-want +got):\n%s", diff)
	}
	if _, err := q.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf(`expected ErrQueueEmpty, got %v`, err)
	}
	if q.HasReadyHead() || q.HasPartialTail() || q.Front() != nil || q.Back() != nil {
		t.Fatal(`empty queue reports content`)
	}
}

func TestInputQueue_Discard(t *testing.T) {
	p := NewPool(0, 8)
	q := NewInputQueue(0)
	q.Push(completeSlot(t, p, "a\n"))
	q.Push(completeSlot(t, p, "b\n"))
	q.Push(completeSlot(t, p, "c"))

	var released int
	release := func(s *Slot) error {
		released++
		return p.Put(s)
	}

	n, err := q.Discard(5, release)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || released != 2 {
		t.Fatalf(`expected 2 discarded, got %d (released %d)`, n, released)
	}
	if q.Len() != 1 || !q.HasPartialTail() {
		t.Fatal(`partial tail must survive discard`)
	}

	// the remainder of the skip carries over to later lines
	q.Push(completeSlot(t, p, "d\n"))
	if _, err := q.Front().ReadLine(true); err != nil {
		t.Fatal(err)
	}
	n, err = q.Discard(3, release)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || q.Len() != 0 {
		t.Fatalf(`expected 2 more discarded, got %d with %d queued`, n, q.Len())
	}
}

func TestInputQueue_compaction(t *testing.T) {
	p := NewPool(0, 8)
	q := NewInputQueue(0)
	var want, got []int64
	for i := range 300 {
		q.Push(completeSlot(t, p, "x\n"))
		want = append(want, int64(i))
		if i%3 == 2 {
			s, err := q.Pop()
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, s.Line())
		}
	}
	for q.Len() != 0 {
		s, _ := q.Pop()
		got = append(got, s.Line())
	}
	if diff := cmp.Diff(want, got); diff != `` {
		t.Fatalf("fifo order broken (-want +got):\n%s", diff)
	}
}

func responseSlot(t *testing.T, p *Pool, line int64) *Slot {
	t.Helper()
	src := completeSlot(t, p, "r\n")
	src.SetLine(line)
	dst := p.Get(&fakeEndpoint{}, Writing)
	if err := src.HandOff(dst); err != nil {
		t.Fatal(err)
	}
	if err := p.Put(src); err != nil {
		t.Fatal(err)
	}
	return dst
}

func TestOutputQueue_releasesInOrder(t *testing.T) {
	p := NewPool(0, 4)
	q := NewOutputQueue(2, 2, 5)
	for _, line := range []int64{7, 9, 6, 8} {
		if err := q.Push(responseSlot(t, p, line)); err != nil {
			t.Fatal(err)
		}
		if q.Ready() {
			t.Fatalf(`nothing is ready until line 5 arrives, pushed %d`, line)
		}
	}
	if err := q.Push(responseSlot(t, p, 5)); err != nil {
		t.Fatal(err)
	}
	var released []int64
	for q.Ready() {
		s, err := q.Pop()
		if err != nil {
			t.Fatal(err)
		}
		released = append(released, s.Line())
	}
	if diff := cmp.Diff([]int64{5, 6, 7, 8, 9}, released); diff != `` {
		t.Fatalf("unexpected release order (-want +got):\n%s", diff)
	}
	if q.Next() != 10 || q.Len() != 0 {
		t.Fatalf(`unexpected next=%d len=%d`, q.Next(), q.Len())
	}
	if q.Cap() != 6 {
		t.Fatalf(`expected growth to 6, got %d`, q.Cap())
	}
}

func TestOutputQueue_boundedOverflow(t *testing.T) {
	p := NewPool(0, 4)
	q := NewOutputQueue(2, 0, 0)
	for _, line := range []int64{2, 1} {
		if err := q.Push(responseSlot(t, p, line)); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Push(responseSlot(t, p, 3)); !errors.Is(err, ErrReorderFull) {
		t.Fatalf(`expected ErrReorderFull, got %v`, err)
	}
}
