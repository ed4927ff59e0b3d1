//go:build linux || darwin

package para

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawner starts worker processes.
type Spawner interface {
	// Spawn starts command with args, returning the process and one
	// full-duplex, non-blocking endpoint connected to its standard input
	// and output.
	Spawn(command string, args []string) (Process, Endpoint, error)
}

// Process is a running worker.
type Process interface {
	Pid() int
	// ExitFd returns a descriptor that becomes readable once the process
	// exits, or -1 if exit cannot be observed that way.
	ExitFd() int
	Kill() error
	// Wait reaps the process and releases ExitFd.
	Wait() (ExitStatus, error)
}

// ExitStatus describes how a worker terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 if the process was killed by a signal.
	Code   int
	Signal unix.Signal
}

// Success reports whether the process exited with status zero, or was
// killed by SIGPIPE, which is expected of workers whose output was closed.
func (s ExitStatus) Success() bool {
	return s.Code == 0 || (s.Code == -1 && s.Signal == unix.SIGPIPE)
}

func (s ExitStatus) String() string {
	if s.Code == -1 {
		return fmt.Sprintf(`signal %s`, s.Signal)
	}
	return fmt.Sprintf(`exit status %d`, s.Code)
}

// ExecSpawner spawns workers with os/exec, connected by a Unix socketpair.
type ExecSpawner struct {
	// Stderr receives the workers' standard error, defaulting to os.Stderr.
	// Writers other than an *os.File are wrapped in a [SyncWriter] shared by
	// every worker of the spawner.
	Stderr io.Writer
	// Env, if non-nil, replaces the inherited environment.
	Env []string
	Dir string

	once   sync.Once
	stderr io.Writer
}

func (x *ExecSpawner) errWriter() io.Writer {
	x.once.Do(func() {
		switch w := x.Stderr.(type) {
		case nil:
			x.stderr = os.Stderr
		case *os.File:
			x.stderr = w
		default:
			x.stderr = NewSyncWriter(w)
		}
	})
	return x.stderr
}

// Spawn implements [Spawner].
func (x *ExecSpawner) Spawn(command string, args []string) (Process, Endpoint, error) {
	// same as os/exec, hold ForkLock until both ends are close-on-exec
	syscall.ForkLock.RLock()
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(pair[0])
		unix.CloseOnExec(pair[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, fmt.Errorf(`para: socketpair: %w`, err)
	}

	child := os.NewFile(uintptr(pair[1]), `worker`)
	cmd := exec.Command(command, args...)
	cmd.Stdin = child
	cmd.Stdout = child
	cmd.Stderr = x.errWriter()
	cmd.Env = x.Env
	cmd.Dir = x.Dir
	cmd.SysProcAttr = sysProcAttr()

	err = cmd.Start()
	_ = child.Close()
	if err != nil {
		_ = closeFD(pair[0])
		return nil, nil, fmt.Errorf(`para: start %s: %w`, command, err)
	}

	ep, err := NewFD(pair[0], fmt.Sprintf(`worker[%d]`, cmd.Process.Pid), true)
	if err != nil {
		_ = closeFD(pair[0])
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}

	proc := &execProcess{cmd: cmd, exitFd: -1}
	if fd, err := openExitFd(cmd.Process.Pid); err == nil {
		proc.exitFd = fd
	}
	return proc, ep, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	exitFd int
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) ExitFd() int { return p.exitFd }

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Wait() (ExitStatus, error) {
	defer func() {
		if p.exitFd >= 0 {
			_ = closeFD(p.exitFd)
			p.exitFd = -1
		}
	}()
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return ExitStatus{Code: -1}, err
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExitStatus{Code: -1}, err
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal()}, nil
	}
	return ExitStatus{Code: state.ExitCode()}, nil
}
