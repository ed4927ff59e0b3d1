//go:build linux || darwin

package para

import (
	"sync"

	"golang.org/x/sys/unix"
)

// wakeup interrupts a poll(2) wait from another goroutine.
type wakeup struct {
	mu     sync.Mutex
	rfd    int
	wfd    int
	closed bool
}

func newWakeup() (*wakeup, error) {
	rfd, wfd, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &wakeup{rfd: rfd, wfd: wfd}, nil
}

// fd returns the descriptor to watch for EventRead.
func (w *wakeup) fd() int { return w.rfd }

// signal makes fd readable. It is safe to call concurrently with, and
// after, close.
func (w *wakeup) signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	// eventfd requires an 8 byte counter increment
	var buf = [8]byte{1}
	_, _ = writeFD(w.wfd, buf[:])
}

// drain consumes pending signals.
func (w *wakeup) drain() {
	var buf [8]byte
	for {
		n, err := readFD(w.rfd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
	}
}

func (w *wakeup) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := closeFD(w.rfd)
	if w.wfd != w.rfd {
		if err2 := closeFD(w.wfd); err == nil {
			err = err2
		}
	}
	return err
}
