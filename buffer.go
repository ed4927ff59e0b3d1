package para

import (
	"fmt"
)

// BufferMode is the discipline a [Buffer] is currently operating under.
type BufferMode uint8

const (
	// Filling buffers accept bytes at the cursor, which tracks the count.
	Filling BufferMode = iota
	// Draining buffers yield the bytes between the cursor and the count.
	Draining
)

// String returns a human-readable representation of the mode.
func (m BufferMode) String() string {
	switch m {
	case Filling:
		return "filling"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("BufferMode(%d)", uint8(m))
	}
}

// Buffer is a fixed-capacity byte region with produce/consume cursors.
//
// Invariant: cursor <= count <= capacity. In Filling mode cursor == count.
//
// Mode-mismatched calls and capacity violations return errors wrapping
// [ErrBufferMode] or [ErrBufferOverflow]. They indicate a broken invariant in
// the caller, never a transient condition.
type Buffer struct {
	data   []byte
	count  int
	cursor int
	mode   BufferMode
}

// NewBuffer allocates an empty buffer in Filling mode.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		panic(fmt.Errorf(`para: negative buffer capacity: %d`, capacity))
	}
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Mode() BufferMode { return b.mode }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of valid bytes held.
func (b *Buffer) Len() int { return b.count }

// Free returns the number of bytes that may still be filled.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// Remaining returns the number of bytes not yet drained.
func (b *Buffer) Remaining() int { return b.count - b.cursor }

// Bytes returns all valid bytes, regardless of mode. The slice aliases the
// buffer and is only valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.data[:b.count] }

// FillRegion returns the writable region from the cursor to capacity, or nil
// if the buffer is not in Filling mode.
func (b *Buffer) FillRegion() []byte {
	if b.mode != Filling {
		return nil
	}
	return b.data[b.cursor:]
}

// MarkFilled records that n bytes of the fill region were populated.
func (b *Buffer) MarkFilled(n int) error {
	if b.mode != Filling {
		return fmt.Errorf(`%w: mark filled in %s mode`, ErrBufferMode, b.mode)
	}
	if n < 0 || n > b.Free() {
		return fmt.Errorf(`%w: mark filled %d with %d free`, ErrBufferOverflow, n, b.Free())
	}
	b.count += n
	b.cursor += n
	return nil
}

// DrainRegion returns the bytes from the cursor to the count, or nil if the
// buffer is not in Draining mode.
func (b *Buffer) DrainRegion() []byte {
	if b.mode != Draining {
		return nil
	}
	return b.data[b.cursor:b.count]
}

// MarkDrained records that n bytes of the drain region were consumed.
func (b *Buffer) MarkDrained(n int) error {
	if b.mode != Draining {
		return fmt.Errorf(`%w: mark drained in %s mode`, ErrBufferMode, b.mode)
	}
	if n < 0 || n > b.Remaining() {
		return fmt.Errorf(`%w: mark drained %d with %d remaining`, ErrBufferOverflow, n, b.Remaining())
	}
	b.cursor += n
	return nil
}

// ToDraining flips a Filling buffer to Draining, rewinding the cursor so the
// held bytes may be consumed. No data is moved.
func (b *Buffer) ToDraining() error {
	if b.mode != Filling {
		return fmt.Errorf(`%w: to draining from %s mode`, ErrBufferMode, b.mode)
	}
	b.mode = Draining
	b.cursor = 0
	return nil
}

// Reset empties the buffer and sets its mode, for reuse.
func (b *Buffer) Reset(mode BufferMode) {
	b.mode = mode
	b.count = 0
	b.cursor = 0
}

// LastByte returns the final valid byte.
func (b *Buffer) LastByte() (byte, error) {
	if b.count == 0 {
		return 0, ErrBufferEmpty
	}
	return b.data[b.count-1], nil
}
