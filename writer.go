package para

import (
	"io"
	"sync"
)

// SyncWriter serializes writes to an underlying writer. Worker standard
// error is copied by one goroutine per worker, so a writer shared between
// workers, or with a logger, must be wrapped.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w. A *SyncWriter is returned as is.
func NewSyncWriter(w io.Writer) *SyncWriter {
	if sw, ok := w.(*SyncWriter); ok {
		return sw
	}
	return &SyncWriter{w: w}
}

func (x *SyncWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.Write(p)
}
