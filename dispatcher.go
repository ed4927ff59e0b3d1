//go:build linux || darwin

package para

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Dispatcher runs the dispatch loop for one input and output stream.
type Dispatcher struct {
	clock     Clock
	output    Endpoint
	opts      *dispatcherOptions
	logger    *logiface.Logger[logiface.Event]
	limiter   *catrate.Limiter
	input     *LineReader
	pool      *Pool
	inq       *InputQueue
	outq      *OutputQueue
	timers    *TimerQueue
	table     *slotTable
	heartbeat *Timer
	log       *CommitLog
	poll      *poller
	wake      *wakeup
	started   time.Time
	cfg       Config
	stats     Stats
	last      CommitRecord
	next      CommitRecord
	skip      uint64
	ran       atomic.Bool
	inEOF     bool
	watchIn   bool
	watchOut  bool
	closed    bool
}

// New validates cfg and returns a Dispatcher that will read lines from input
// and write responses to output. The dispatcher takes ownership of both
// endpoints, closing them when Run returns.
func New(cfg Config, input, output Endpoint, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if input == nil || output == nil {
		return nil, fmt.Errorf(`%w: nil endpoint`, ErrInvalidConfig)
	}
	o, err := resolveDispatcherOptions(opts)
	if err != nil {
		return nil, err
	}
	limiter, err := o.limiter()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:     cfg,
		opts:    o,
		clock:   o.clock,
		logger:  o.logger,
		limiter: limiter,
		input:   NewLineReader(input, cfg.MaxLine),
		output:  output,
	}, nil
}

// Stats returns the run summary. It must not be called concurrently with
// Run.
func (d *Dispatcher) Stats() Stats { return d.stats }

// Run spawns the workers and dispatches until input is exhausted and every
// response has been written, or until the first fatal condition.
//
// A nil return means a clean run: the final commit was made and every worker
// was reaped. Otherwise the error is a *[FatalError] or [PanicError], the
// workers were killed, and the commit log holds the last durable commit.
// Cancelling ctx aborts the run in the same way.
func (d *Dispatcher) Run(ctx context.Context) (err error) {
	if !d.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// the poll loop owns this thread, which also parents the workers
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.started = d.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r}
		}
		if err != nil {
			d.abort(err)
		}
		d.stats.ElapsedSeconds = d.clock.Now().Sub(d.started).Seconds()
	}()

	if err = d.start(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, d.wake.signal)
	defer stop()

	for !d.done() {
		if ctx.Err() != nil {
			return fatal(`run`, NoWorker, LineUnset, context.Cause(ctx))
		}
		if err = d.iterate(); err != nil {
			return err
		}
	}

	return d.shutdown()
}

func (d *Dispatcher) start() error {
	cfg := &d.cfg

	var err error
	if d.wake, err = newWakeup(); err != nil {
		return fatal(`wakeup`, NoWorker, LineUnset, err)
	}
	d.poll = newPoller()

	var recovered CommitRecord
	if cfg.Recover {
		rec, ok, err := ReadCommitLog(cfg.CommitLogPath)
		if err != nil {
			return fatal(`recover`, NoWorker, LineUnset, err)
		}
		if ok {
			recovered = rec
			if r, ok := d.output.(Repositioner); ok && r.CanReposition() {
				if err := r.Reposition(int64(rec.Offset)); err != nil {
					return fatal(`recover`, NoWorker, LineUnset, err)
				}
			} else {
				d.logger.Warning().
					Uint64(`offset`, rec.Offset).
					Log(`output cannot be repositioned, recovered output will be appended`)
			}
		}
	}
	d.last, d.next, d.skip = recovered, recovered, recovered.Lines
	d.stats.Recovered = recovered

	if cfg.CommitInterval > 0 {
		var syncer Syncer
		if s, ok := d.output.(Syncer); ok {
			syncer = s
		}
		if d.log, err = OpenCommitLog(cfg.CommitLogPath, syncer); err != nil {
			return fatal(`commit log`, NoWorker, LineUnset, err)
		}
	}

	d.pool = NewPool(cfg.PoolSize(), cfg.MaxLine)
	d.inq = NewInputQueue(cfg.StartLine)
	d.outq = NewOutputQueue(cfg.ReorderCapacity, cfg.ReorderGrowth, cfg.StartLine+int64(recovered.Lines))
	d.timers = NewTimerQueue(cfg.Workers + 1)
	d.table = newSlotTable(cfg.Workers)

	for i := range cfg.Workers {
		proc, ep, err := d.opts.spawner.Spawn(cfg.Command, cfg.Args)
		if err != nil {
			return fatal(`spawn`, i, LineUnset, err)
		}
		s := d.pool.Get(ep, Writing)
		s.worker = i
		d.table.add(proc, s.index, NewTimer(WorkerDeadline, cfg.WorkerTimeout, i))
		d.logger.Debug().
			Int(`worker`, i).
			Int(`pid`, proc.Pid()).
			Log(`worker started`)
	}

	if cfg.Heartbeat > 0 {
		d.heartbeat = NewTimer(Heartbeat, cfg.Heartbeat, NoWorker)
		d.heartbeat.Activate(d.clock.Now())
		if err := d.timers.Push(d.heartbeat); err != nil {
			return fatal(`heartbeat`, NoWorker, LineUnset, err)
		}
	}

	d.stats.Workers = cfg.Workers
	d.watchIn = true

	d.logger.Info().
		Str(`command`, cfg.Command).
		Int(`workers`, cfg.Workers).
		Int(`max_line`, cfg.MaxLine).
		Int(`reorder_capacity`, cfg.ReorderCapacity).
		Uint64(`recovered_lines`, recovered.Lines).
		Uint64(`recovered_offset`, recovered.Offset).
		Log(`dispatcher started`)

	return nil
}

// done reports whether there is nothing left to watch and both queues are
// empty.
func (d *Dispatcher) done() bool {
	return !d.watchIn &&
		!d.watchOut &&
		!d.table.busy() &&
		d.inq.Len() == 0 &&
		d.outq.Len() == 0
}

// iterate performs one wait and dispatch cycle.
func (d *Dispatcher) iterate() error {
	d.stats.Iterations++

	d.poll.Reset()
	d.poll.Watch(d.wake.fd(), EventRead)
	for i := range d.table.workers {
		w := &d.table.workers[i]
		d.poll.Watch(w.proc.ExitFd(), EventRead)
		// workers are always watched for read, to catch unrequested output
		d.poll.Watch(d.pool.At(w.slot).ep.Fd(), w.interest|EventRead)
	}
	if d.watchIn {
		d.poll.Watch(d.input.Fd(), EventRead)
	}
	if d.watchOut {
		d.poll.Watch(d.output.Fd(), EventWrite)
	}

	timeout := time.Duration(-1)
	if wait, ok := d.timers.NextWait(d.clock.Now()); ok {
		timeout = wait
	}
	if d.watchIn && d.input.Buffered() > 0 {
		timeout = 0
	}
	if _, err := d.poll.Wait(timeout); err != nil {
		return fatal(`poll`, NoWorker, LineUnset, err)
	}
	now := d.clock.Now()

	// 1. worker termination, or output while no response is expected
	for i := range d.table.workers {
		w := &d.table.workers[i]
		s := d.pool.At(w.slot)
		if fd := w.proc.ExitFd(); fd >= 0 && d.poll.Ready(fd) != 0 {
			return fatal(`worker`, i, s.line, fmt.Errorf(`%w: pid %d`, ErrWorkerExited, w.proc.Pid()))
		}
		if w.interest&EventRead != 0 || d.poll.Ready(s.ep.Fd())&(EventRead|EventHangup|EventError) == 0 {
			continue
		}
		eof, err := readUnexpected(s.ep)
		if err == nil && eof {
			err = fmt.Errorf(`%w: closed its output`, ErrWorkerExited)
		}
		if err != nil {
			return fatal(`read worker`, i, s.line, err)
		}
	}
	if d.poll.Ready(d.wake.fd()) != 0 {
		d.wake.drain()
	}

	// 2. expired timers
	if err := d.fireTimers(now); err != nil {
		return err
	}

	// 3. input
	if d.watchIn && (d.input.Buffered() > 0 || d.poll.Ready(d.input.Fd()) != 0) {
		if err := d.readInput(); err != nil {
			return err
		}
	}

	// 4. recovery
	if d.skip > 0 {
		n, err := d.inq.Discard(d.skip, d.pool.Put)
		if err != nil {
			return fatal(`recover`, NoWorker, LineUnset, err)
		}
		d.skip -= n
		d.stats.LinesSkipped += n
	}

	// 5. dispatch lines to idle workers
	if err := d.dispatch(); err != nil {
		return err
	}

	// 6. send lines to workers
	for i := range d.table.workers {
		w := &d.table.workers[i]
		s := d.pool.At(w.slot)
		if w.interest&EventWrite == 0 || d.poll.Ready(s.ep.Fd()) == 0 {
			continue
		}
		if err := d.writeSlot(s, true); err != nil {
			return fatal(`write worker`, i, s.line, err)
		}
		if s.WriteComplete() {
			s.ClearToRead()
			w.deadline.Activate(now)
			if err := d.timers.Push(w.deadline); err != nil {
				return fatal(`arm deadline`, i, s.line, err)
			}
			w.interest = EventRead
		}
	}

	// 7. receive responses
	for i := range d.table.workers {
		w := &d.table.workers[i]
		s := d.pool.At(w.slot)
		if w.interest&EventRead == 0 || d.poll.Ready(s.ep.Fd()) == 0 {
			continue
		}
		if _, err := s.ReadLine(true); err != nil {
			return fatal(`read worker`, i, s.line, err)
		}
		if s.EOF() {
			return fatal(`read worker`, i, s.line, fmt.Errorf(`%w: closed its output`, ErrWorkerExited))
		}
		if s.ReadComplete() {
			d.timers.Remove(w.deadline)
			w.deadline.Deactivate()
			w.interest = 0
		}
	}

	// 8. move responses to the reorder queue
	for i := range d.table.workers {
		w := &d.table.workers[i]
		s := d.pool.At(w.slot)
		if w.interest != 0 || s.mode != Reading || !s.ReadComplete() {
			continue
		}
		out := d.pool.Get(d.output, Writing)
		if err := s.HandOff(out); err != nil {
			return fatal(`collect`, i, s.line, err)
		}
		if err := d.outq.Push(out); err != nil {
			return fatal(`collect`, i, out.line, err)
		}
		s.ClearToWrite()
		d.stats.MaxReorderDepth = max(d.stats.MaxReorderDepth, d.outq.Len())
		if d.outq.Ready() {
			d.watchOut = true
		}
	}

	// 9. output
	if d.watchOut && d.poll.Ready(d.output.Fd()) != 0 {
		if err := d.flushOutput(); err != nil {
			return err
		}
	}

	// 10. interest
	d.watchIn = !d.inEOF && (d.inq.HasPartialTail() || d.inq.Len() < d.table.Len())
	d.watchOut = d.outq.Ready()

	return nil
}

func (d *Dispatcher) fireTimers(now time.Time) error {
	for {
		t := d.timers.Front()
		if t == nil || t.Deadline().After(now) {
			return nil
		}
		if _, err := d.timers.Pop(); err != nil {
			return fatal(`timer`, NoWorker, LineUnset, err)
		}
		switch t.Kind() {
		case Heartbeat:
			d.stats.Heartbeats++
			d.logger.Debug().
				Uint64(`lines_read`, d.stats.LinesRead).
				Uint64(`lines_written`, d.stats.LinesWritten).
				Int(`input_queue`, d.inq.Len()).
				Int(`reorder_queue`, d.outq.Len()).
				Log(`heartbeat`)
			t.Activate(now)
			if err := d.timers.Push(t); err != nil {
				return fatal(`heartbeat`, NoWorker, LineUnset, err)
			}
		case WorkerDeadline:
			t.Deactivate()
			w := &d.table.workers[t.Key()]
			return fatal(`worker`, w.index, d.pool.At(w.slot).line, fmt.Errorf(`%w: no response within %s`, ErrWorkerTimeout, t.Interval()))
		}
	}
}

// readInput reads up to one complete line per worker, continuing any
// partially read tail line.
func (d *Dispatcher) readInput() error {
	for !d.inEOF && (d.inq.Len() < d.table.Len() || d.inq.HasPartialTail()) {
		s := d.inq.Back()
		partial := s != nil && !s.ReadComplete()
		if !partial {
			s = d.pool.Get(d.input, Reading)
		}
		n, err := s.ReadLine(true)
		if err != nil {
			line := s.line
			if !partial {
				line = d.inq.NextLine()
			}
			return fatal(`read input`, NoWorker, line, err)
		}
		if s.EOF() {
			d.inEOF = true
		}
		if !partial {
			if s.buf.Len() == 0 {
				if err := d.pool.Put(s); err != nil {
					return fatal(`read input`, NoWorker, LineUnset, err)
				}
			} else {
				d.inq.Push(s)
				d.stats.LinesRead++
			}
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// dispatch hands ready input lines to idle workers, round robin.
func (d *Dispatcher) dispatch() error {
	n := d.table.Len()
	for k := 0; k < n && d.skip == 0 && d.inq.HasReadyHead(); k++ {
		i := (d.table.next + k) % n
		w := &d.table.workers[i]
		s := d.pool.At(w.slot)
		if w.interest != 0 || s.mode != Writing || s.buf.Len() != 0 {
			continue
		}
		head, err := d.inq.Pop()
		if err != nil {
			return fatal(`dispatch`, i, LineUnset, err)
		}
		if err := head.HandOff(s); err != nil {
			return fatal(`dispatch`, i, head.line, err)
		}
		if err := d.pool.Put(head); err != nil {
			return fatal(`dispatch`, i, s.line, err)
		}
		w.interest = EventWrite
		d.table.next = (i + 1) % n
	}
	return nil
}

// flushOutput writes released responses in line order. Only the first write
// relies on readiness, later ones stop at the first would-block.
func (d *Dispatcher) flushOutput() error {
	must := true
	for d.outq.Ready() {
		s := d.outq.Peek()
		if err := d.writeSlot(s, must); err != nil {
			return fatal(`write output`, NoWorker, s.line, err)
		}
		must = false
		if !s.WriteComplete() {
			return nil
		}
		if _, err := d.outq.Pop(); err != nil {
			return fatal(`write output`, NoWorker, s.line, err)
		}
		n := uint64(s.buf.Len())
		if err := d.pool.Put(s); err != nil {
			return fatal(`write output`, NoWorker, LineUnset, err)
		}
		d.next.Lines++
		d.next.Offset += n
		d.stats.LinesWritten++
		d.stats.BytesWritten += n
		if err := d.commit(false); err != nil {
			return err
		}
	}
	return nil
}

// writeSlot writes once. If must is set the descriptor was certified
// writable, so a would-block result is retried after a blocking wait.
func (d *Dispatcher) writeSlot(s *Slot, must bool) error {
	for {
		_, err := s.WriteLine(must)
		if !must || !errors.Is(err, ErrWouldBlock) {
			return err
		}
		if _, ok := d.limiter.Allow(`certified write`); ok {
			d.logger.Warning().
				Int(`fd`, s.ep.Fd()).
				Int(`worker`, s.worker).
				Log(`descriptor reported writable but would block, waiting`)
		}
		if err := waitWritable(s.ep.Fd()); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) commit(force bool) error {
	if d.log == nil || d.next.Lines == d.last.Lines {
		return nil
	}
	if !force && d.next.Lines%uint64(d.cfg.CommitInterval) != 0 {
		return nil
	}
	if err := d.log.Commit(d.next); err != nil {
		return fatal(`commit`, NoWorker, LineUnset, err)
	}
	d.last = d.next
	d.stats.Commits++
	d.logger.Debug().
		Uint64(`lines`, d.next.Lines).
		Uint64(`offset`, d.next.Offset).
		Log(`committed`)
	return nil
}

// readUnexpected reads from an endpoint that owes no response. It reports
// true at end of stream, and fails with [ErrProtocol] if any byte arrives.
func readUnexpected(ep Endpoint) (bool, error) {
	var b [1]byte
	n, err := ep.Read(b[:])
	switch {
	case errors.Is(err, ErrWouldBlock):
		return false, nil
	case err != nil:
		return false, err
	case n == 0:
		return true, nil
	default:
		return false, fmt.Errorf(`%w: output with no line outstanding`, ErrProtocol)
	}
}

// drainWorkers closes the request side of every worker and waits, up to the
// worker timeout, for each to close its output. Any byte received first is a
// response to no line, so the run fails with [ErrProtocol].
func (d *Dispatcher) drainWorkers() error {
	pending := make([]int, 0, d.table.Len())
	for i := range d.table.workers {
		ep := d.pool.At(d.table.workers[i].slot).ep
		if hc, ok := ep.(HalfCloser); ok {
			if err := hc.CloseWrite(); err != nil {
				return fatal(`close worker`, i, LineUnset, err)
			}
			pending = append(pending, i)
		}
	}
	deadline := d.clock.Now().Add(d.cfg.WorkerTimeout)
	for len(pending) != 0 {
		wait := deadline.Sub(d.clock.Now())
		if wait <= 0 {
			d.logger.Warning().
				Int(`workers`, len(pending)).
				Log(`workers still running after input was closed`)
			return nil
		}
		d.poll.Reset()
		for _, i := range pending {
			d.poll.Watch(d.pool.At(d.table.workers[i].slot).ep.Fd(), EventRead)
		}
		if _, err := d.poll.Wait(wait); err != nil {
			return fatal(`poll`, NoWorker, LineUnset, err)
		}
		open := pending[:0]
		for _, i := range pending {
			ep := d.pool.At(d.table.workers[i].slot).ep
			if d.poll.Ready(ep.Fd()) == 0 {
				open = append(open, i)
				continue
			}
			eof, err := readUnexpected(ep)
			if err != nil {
				return fatal(`read worker`, i, LineUnset, err)
			}
			if !eof {
				open = append(open, i)
			}
		}
		pending = open
	}
	return nil
}

// shutdown completes a clean run.
func (d *Dispatcher) shutdown() error {
	if err := d.drainWorkers(); err != nil {
		return err
	}
	if err := d.commit(true); err != nil {
		return err
	}
	if err := d.closeEndpoints(); err != nil {
		return fatal(`close`, NoWorker, LineUnset, err)
	}
	for i := range d.table.workers {
		w := &d.table.workers[i]
		status, err := w.proc.Wait()
		w.reaped = true
		switch {
		case err != nil:
			d.logger.Warning().Int(`worker`, i).Err(err).Log(`wait for worker failed`)
		case !status.Success():
			d.logger.Warning().
				Int(`worker`, i).
				Int(`pid`, w.proc.Pid()).
				Str(`status`, status.String()).
				Log(`worker exited abnormally`)
		}
	}
	if d.log != nil {
		log := d.log
		d.log = nil
		if !d.cfg.KeepCommitLog {
			if err := log.Remove(); err != nil {
				_ = log.Close()
				return fatal(`commit log`, NoWorker, LineUnset, err)
			}
		}
		if err := log.Close(); err != nil {
			return fatal(`commit log`, NoWorker, LineUnset, err)
		}
	}
	_ = d.wake.close()

	d.logger.Info().
		Uint64(`lines_read`, d.stats.LinesRead).
		Uint64(`lines_skipped`, d.stats.LinesSkipped).
		Uint64(`lines_written`, d.stats.LinesWritten).
		Uint64(`bytes_written`, d.stats.BytesWritten).
		Uint64(`commits`, d.stats.Commits).
		Int(`max_reorder_depth`, d.stats.MaxReorderDepth).
		Dur(`elapsed`, d.clock.Now().Sub(d.started)).
		Log(`dispatcher finished`)

	return nil
}

// abort kills and reaps every worker and releases all descriptors, leaving
// the commit log as last committed.
func (d *Dispatcher) abort(cause error) {
	d.logger.Err().Err(cause).Log(`dispatcher aborted`)
	if d.table != nil {
		for i := range d.table.workers {
			if w := &d.table.workers[i]; !w.reaped {
				_ = w.proc.Kill()
			}
		}
	}
	_ = d.closeEndpoints()
	if d.table != nil {
		for i := range d.table.workers {
			if w := &d.table.workers[i]; !w.reaped {
				_, _ = w.proc.Wait()
				w.reaped = true
			}
		}
	}
	if d.log != nil {
		_ = d.log.Close()
		d.log = nil
	}
	if d.wake != nil {
		_ = d.wake.close()
	}
}

func (d *Dispatcher) closeEndpoints() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if d.table != nil {
		for i := range d.table.workers {
			errs = append(errs, d.pool.At(d.table.workers[i].slot).ep.Close())
		}
	}
	errs = append(errs, d.input.Close(), d.output.Close())
	return errors.Join(errs...)
}
