package para

import (
	"bytes"
)

// Endpoint is a non-blocking byte stream.
//
// Read and Write return [ErrWouldBlock] when the underlying descriptor is
// not ready. A Read returning (0, nil) signals end of stream.
type Endpoint interface {
	// Fd returns the descriptor to poll for readiness, or -1 if none.
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Syncer is implemented by endpoints that may support durable flush.
type Syncer interface {
	CanSync() bool
	Sync() error
}

// HalfCloser is implemented by endpoints that can signal end of stream to
// the peer while remaining readable.
type HalfCloser interface {
	CloseWrite() error
}

// Repositioner is implemented by endpoints that may support truncating and
// seeking to an absolute offset.
type Repositioner interface {
	CanReposition() bool
	Reposition(offset int64) error
}

// LineReader wraps an input endpoint so that each Read returns bytes from at
// most one line. Bytes read ahead of the current line are held until the
// next Read, and reported by Buffered, since they will not be signalled by
// the descriptor's readiness.
type LineReader struct {
	Endpoint
	buf   []byte
	start int
	end   int
	eof   bool
}

// NewLineReader returns a LineReader with the given read-ahead size.
func NewLineReader(ep Endpoint, size int) *LineReader {
	if size < 1 {
		size = 1
	}
	return &LineReader{Endpoint: ep, buf: make([]byte, size)}
}

// Buffered returns the number of bytes held in read-ahead.
func (r *LineReader) Buffered() int { return r.end - r.start }

func (r *LineReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.start == r.end {
		if r.eof {
			return 0, nil
		}
		r.start, r.end = 0, 0
		n, err := r.Endpoint.Read(r.buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			r.eof = true
			return 0, nil
		}
		r.end = n
	}
	chunk := r.buf[r.start:r.end]
	if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
		chunk = chunk[:i+1]
	}
	n := copy(p, chunk)
	r.start += n
	return n, nil
}
