//go:build linux || darwin

package para

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// FD is an [Endpoint] over a raw, non-blocking file descriptor.
type FD struct {
	name    string
	fd      int
	regular bool
	owned   bool
	closed  bool
}

// NewFD wraps fd, switching it to non-blocking mode. If owned is false,
// Close restores blocking mode instead of closing the descriptor.
func NewFD(fd int, name string, owned bool) (*FD, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf(`para: stat %s: %w`, name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf(`para: set non-blocking %s: %w`, name, err)
	}
	return &FD{
		name:    name,
		fd:      fd,
		regular: st.Mode&unix.S_IFMT == unix.S_IFREG,
		owned:   owned,
	}, nil
}

// OpenInput opens path for reading.
func OpenInput(path string) (*FD, error) {
	fd, err := openFD(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return newOwnedFD(fd, path)
}

// OpenOutput opens path for writing, creating it if needed. The file is
// truncated only if truncate is true, so that a recovering run can
// reposition within previously written output.
func OpenOutput(path string, truncate bool) (*FD, error) {
	flags := unix.O_WRONLY | unix.O_CREAT
	if truncate {
		flags |= unix.O_TRUNC
	}
	fd, err := openFD(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return newOwnedFD(fd, path)
}

// Stdin wraps the process's standard input.
func Stdin() (*FD, error) { return NewFD(unix.Stdin, `<stdin>`, false) }

// Stdout wraps the process's standard output.
func Stdout() (*FD, error) { return NewFD(unix.Stdout, `<stdout>`, false) }

func openFD(path string, flags int, perm uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, perm)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, fmt.Errorf(`para: open %s: %w`, path, err)
		}
		return fd, nil
	}
}

func newOwnedFD(fd int, name string) (*FD, error) {
	f, err := NewFD(fd, name, true)
	if err != nil {
		_ = closeFD(fd)
		return nil, err
	}
	return f, nil
}

func (f *FD) Fd() int { return f.fd }

func (f *FD) Name() string { return f.name }

func (f *FD) Read(p []byte) (int, error) {
	for {
		n, err := readFD(f.fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf(`para: read %s: %w`, f.name, err)
		}
	}
}

func (f *FD) Write(p []byte) (int, error) {
	for {
		n, err := writeFD(f.fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf(`para: write %s: %w`, f.name, err)
		}
	}
}

// Close releases the descriptor. It is safe to call more than once.
func (f *FD) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.owned {
		return unix.SetNonblock(f.fd, false)
	}
	if err := closeFD(f.fd); err != nil {
		return fmt.Errorf(`para: close %s: %w`, f.name, err)
	}
	return nil
}

// CloseWrite shuts down the write half of a socket.
func (f *FD) CloseWrite() error {
	if err := unix.Shutdown(f.fd, unix.SHUT_WR); err != nil {
		return fmt.Errorf(`para: shutdown %s: %w`, f.name, err)
	}
	return nil
}

// CanSync reports whether the descriptor is a regular file.
func (f *FD) CanSync() bool { return f.regular }

func (f *FD) Sync() error {
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf(`para: fsync %s: %w`, f.name, err)
	}
	return nil
}

// CanReposition reports whether the descriptor is a regular file.
func (f *FD) CanReposition() bool { return f.regular }

// Reposition truncates the file to offset and moves the write position
// there.
func (f *FD) Reposition(offset int64) error {
	if !f.regular {
		return fmt.Errorf(`para: reposition %s: not a regular file`, f.name)
	}
	if err := unix.Ftruncate(f.fd, offset); err != nil {
		return fmt.Errorf(`para: truncate %s: %w`, f.name, err)
	}
	if _, err := unix.Seek(f.fd, offset, 0); err != nil {
		return fmt.Errorf(`para: seek %s: %w`, f.name, err)
	}
	return nil
}

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor on Unix systems.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor on Unix systems.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// waitWritable blocks until fd reports writable, or hangs up.
func waitWritable(fd int) error {
	if fd < 0 {
		return errors.New(`para: wait writable: no descriptor`)
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
