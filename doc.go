// Package para implements an order-preserving parallel line dispatcher.
//
// A [Dispatcher] reads newline-terminated lines from an input stream, hands
// each line to one of N long-lived worker processes, collects exactly one
// response line per request, and writes the responses to an output stream in
// the original input order. All of this is driven by a single goroutine,
// locked to its OS thread, which performs one poll(2) wait per iteration over
// non-blocking descriptors.
//
// # Components
//
// The loop is built from small, separately testable parts:
//
//   - [Buffer]: a fixed-capacity byte region with a fill/drain discipline.
//   - [Heap]: a min-heap supporting removal of arbitrary elements.
//   - [Slot]: a buffer paired with an endpoint, a line number and a mode,
//     with a zero-copy [Slot.HandOff] that moves a buffer between roles.
//   - [Pool]: an arena of slots with a free-index stack.
//   - [InputQueue] and [OutputQueue]: the FIFO of unread input, and the
//     reorder heap that releases responses strictly by line number.
//   - [TimerQueue]: heartbeat and per-worker response deadlines.
//   - [CommitLog]: a durable (lines, offset) record used for crash recovery.
//
// # Failure model
//
// Would-block and end-of-stream conditions drive state transitions and are
// never surfaced. Everything else (a worker that exits or goes silent past
// its deadline, a line longer than the configured maximum, a full reorder
// queue with no growth configured, commit-log I/O failure) aborts the run:
// [Dispatcher.Run] kills every worker, skips the final commit, and returns
// the cause. A subsequent run with recovery enabled resumes from the last
// durable commit.
//
// # Platform Support
//
// Linux and Darwin. Worker exit is observed through a pidfd on Linux and a
// kqueue EVFILT_PROC descriptor on Darwin, so that it participates in the
// same poll(2) wait as the I/O descriptors.
package para
