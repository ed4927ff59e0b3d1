//go:build linux || darwin

package para

import (
	"time"

	"golang.org/x/sys/unix"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// poller performs one poll(2) wait over a readiness set that is rebuilt
// before every wait. poll(2) rather than epoll, since epoll rejects regular
// files, which are common inputs and outputs.
type poller struct {
	fds   []unix.PollFd
	index map[int]int
}

func newPoller() *poller {
	return &poller{index: make(map[int]int)}
}

// Reset clears the readiness set.
func (p *poller) Reset() {
	p.fds = p.fds[:0]
	clear(p.index)
}

// Watch adds interest in events on fd, merging with any existing interest.
func (p *poller) Watch(fd int, events IOEvents) {
	if fd < 0 || events == 0 {
		return
	}
	if i, ok := p.index[fd]; ok {
		p.fds[i].Events |= eventsToPoll(events)
		return
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(events)})
}

// Len returns the number of watched descriptors.
func (p *poller) Len() int { return len(p.fds) }

// Wait blocks until at least one watched descriptor is ready or the timeout
// elapses. A negative timeout waits indefinitely. Interruption by a signal
// is reported as zero ready descriptors.
func (p *poller) Wait(timeout time.Duration) (int, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.Poll(p.fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Ready returns the events reported for fd by the last Wait.
func (p *poller) Ready(fd int) IOEvents {
	i, ok := p.index[fd]
	if !ok {
		return 0
	}
	return pollToEvents(p.fds[i].Revents)
}

// eventsToPoll converts IOEvents to poll event flags.
func eventsToPoll(events IOEvents) int16 {
	var pollEvents int16
	if events&EventRead != 0 {
		pollEvents |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		pollEvents |= unix.POLLOUT
	}
	return pollEvents
}

// pollToEvents converts poll event flags to IOEvents.
func pollToEvents(pollEvents int16) IOEvents {
	var events IOEvents
	if pollEvents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if pollEvents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if pollEvents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if pollEvents&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
