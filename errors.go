package para

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrBufferOverflow = errors.New("para: buffer capacity exceeded")
	ErrBufferMode     = errors.New("para: buffer mode mismatch")
	ErrBufferEmpty    = errors.New("para: buffer empty")
	ErrHeapFull       = errors.New("para: heap full")
	ErrHeapEmpty      = errors.New("para: heap empty")
	ErrQueueEmpty     = errors.New("para: queue empty")
	ErrSlotState      = errors.New("para: slot in wrong state")
	ErrDoublePut      = errors.New("para: slot returned to pool twice")
	ErrLineTooLong    = errors.New("para: line exceeds maximum length")
	ErrProtocol       = errors.New("para: worker protocol violation")
	ErrWriteAfterEOF  = errors.New("para: end of stream with bytes remaining")
	ErrWorkerTimeout  = errors.New("para: worker deadline exceeded")
	ErrWorkerExited   = errors.New("para: worker exited")
	ErrReorderFull    = errors.New("para: reorder queue full")
	ErrCommitLog      = errors.New("para: commit log")
	ErrWouldBlock     = errors.New("para: operation would block")
	ErrInvalidConfig  = errors.New("para: invalid config")
	ErrAlreadyRunning = errors.New("para: dispatcher already ran")
)

// FatalError is the error returned by [Dispatcher.Run] for any condition that
// aborts a run. Cause is usually one of the package sentinels, and is
// reachable via [errors.Is].
type FatalError struct {
	Cause  error
	Op     string
	Worker int   // NoWorker if not attributable to a worker
	Line   int64 // LineUnset if not attributable to a line
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	msg := "para: " + e.Op
	if e.Worker != NoWorker {
		msg += fmt.Sprintf(" (worker %d)", e.Worker)
	}
	if e.Line != LineUnset {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *FatalError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panic inside the dispatch loop.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("para: dispatch loop panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func fatal(op string, worker int, line int64, cause error) error {
	return &FatalError{Op: op, Worker: worker, Line: line, Cause: cause}
}
