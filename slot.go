package para

import (
	"bytes"
	"errors"
	"fmt"
)

// SlotMode is the role a [Slot] currently plays.
type SlotMode uint8

const (
	// Reading slots fill their buffer from the endpoint.
	Reading SlotMode = iota
	// Writing slots drain their buffer to the endpoint.
	Writing
)

func (m SlotMode) String() string {
	switch m {
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	default:
		return fmt.Sprintf("SlotMode(%d)", uint8(m))
	}
}

const (
	// NoWorker identifies slots attached to the input or output stream.
	NoWorker = -1
	// LineUnset is the line number of a slot not carrying a line.
	LineUnset int64 = -1
)

// Slot pairs an owned [Buffer] with an endpoint, a line number and a mode.
//
// Invariant: a Reading slot's buffer is Filling, and a Writing slot's buffer
// is Draining.
type Slot struct {
	ep     Endpoint
	buf    *Buffer
	line   int64
	index  int
	worker int
	mode   SlotMode
	eof    bool
	free   bool
}

func newSlot(index, capacity int) *Slot {
	return &Slot{
		buf:    NewBuffer(capacity),
		line:   LineUnset,
		index:  index,
		worker: NoWorker,
	}
}

// Index returns the slot's position in its [Pool].
func (s *Slot) Index() int { return s.index }

func (s *Slot) Worker() int { return s.worker }

func (s *Slot) Endpoint() Endpoint { return s.ep }

func (s *Slot) Mode() SlotMode { return s.mode }

func (s *Slot) Line() int64 { return s.line }

func (s *Slot) SetLine(line int64) { s.line = line }

// EOF reports whether end of stream was observed.
func (s *Slot) EOF() bool { return s.eof }

// Buffer returns the currently owned buffer. Ownership changes on HandOff,
// so the result must not be retained.
func (s *Slot) Buffer() *Buffer { return s.buf }

// ReadLine reads into the free region of the buffer.
//
// At end of stream the EOF flag is set if must is true, and an unterminated
// trailing line gets a synthesized newline. A buffer that fills without
// holding a newline fails with [ErrLineTooLong], and a newline anywhere but
// the final byte fails with [ErrProtocol]. Would-block reads are not errors.
func (s *Slot) ReadLine(must bool) (int, error) {
	if s.mode != Reading {
		return 0, fmt.Errorf(`%w: read on %s slot`, ErrSlotState, s.mode)
	}
	region := s.buf.FillRegion()
	if len(region) == 0 {
		if s.ReadComplete() {
			return 0, nil
		}
		return 0, ErrLineTooLong
	}
	n, err := s.ep.Read(region)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		if must {
			s.eof = true
		}
		if last, err := s.buf.LastByte(); err == nil && last != '\n' {
			if s.buf.Free() == 0 {
				return 0, ErrLineTooLong
			}
			s.buf.FillRegion()[0] = '\n'
			if err := s.buf.MarkFilled(1); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	if i := bytes.IndexByte(region[:n], '\n'); i >= 0 && i != n-1 {
		return n, fmt.Errorf(`%w: more than one line in a single response`, ErrProtocol)
	}
	if err := s.buf.MarkFilled(n); err != nil {
		return n, err
	}
	if s.buf.Free() == 0 && !s.ReadComplete() {
		return n, ErrLineTooLong
	}
	return n, nil
}

// WriteLine writes as much of the drain region as the endpoint accepts.
//
// If must is true, a would-block write is reported as [ErrWouldBlock], and a
// zero-byte write sets the EOF flag. Reaching EOF with bytes remaining fails
// with [ErrWriteAfterEOF].
func (s *Slot) WriteLine(must bool) (int, error) {
	if s.mode != Writing {
		return 0, fmt.Errorf(`%w: write on %s slot`, ErrSlotState, s.mode)
	}
	region := s.buf.DrainRegion()
	if len(region) == 0 {
		return 0, nil
	}
	n, err := s.ep.Write(region)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) && !must {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		if must {
			s.eof = true
		}
	} else if err := s.buf.MarkDrained(n); err != nil {
		return n, err
	}
	if s.eof && s.buf.Remaining() != 0 {
		return n, ErrWriteAfterEOF
	}
	return n, nil
}

// ReadComplete reports whether the buffer holds a full line.
func (s *Slot) ReadComplete() bool {
	last, err := s.buf.LastByte()
	return err == nil && last == '\n'
}

// WriteComplete reports whether nothing remains to drain.
func (s *Slot) WriteComplete() bool {
	return s.buf.Remaining() == 0
}

// HandOff transfers this slot's completed line to dst, which must be an
// empty Writing slot. The filled buffer moves to dst, flipped to Draining,
// and this slot receives dst's buffer reset for Filling. The line number is
// carried across. No bytes are copied.
func (s *Slot) HandOff(dst *Slot) error {
	if s.mode != Reading || !s.ReadComplete() {
		return fmt.Errorf(`%w: hand off from incomplete %s slot`, ErrSlotState, s.mode)
	}
	if dst.mode != Writing || dst.buf.Len() != 0 {
		return fmt.Errorf(`%w: hand off to non-empty %s slot`, ErrSlotState, dst.mode)
	}
	filled := s.buf
	s.buf = dst.buf
	dst.buf = filled
	s.buf.Reset(Filling)
	if err := dst.buf.ToDraining(); err != nil {
		return err
	}
	dst.line = s.line
	return nil
}

// ClearToRead empties the slot for reading. The line number and endpoint
// are kept.
func (s *Slot) ClearToRead() {
	s.mode = Reading
	s.eof = false
	s.buf.Reset(Filling)
}

// ClearToWrite empties the slot for writing and unsets the line number.
func (s *Slot) ClearToWrite() {
	s.mode = Writing
	s.eof = false
	s.line = LineUnset
	s.buf.Reset(Draining)
}
