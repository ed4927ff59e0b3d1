package para

import (
	"fmt"
	"time"
)

// Config is the parameter set of a [Dispatcher].
type Config struct {
	// Command and Args start each worker.
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// CommitLogPath locates the commit log, used when CommitInterval is
	// positive or Recover is set.
	CommitLogPath string `toml:"commit_log"`

	// Workers is the number of worker processes.
	Workers int `toml:"workers"`

	// WorkerTimeout bounds how long a worker may take to answer one line.
	WorkerTimeout time.Duration `toml:"worker_timeout"`

	// Heartbeat is the interval of the idle heartbeat, zero to disable.
	Heartbeat time.Duration `toml:"heartbeat"`

	// MaxLine is the maximum length of a line, including its newline, both
	// for input lines and worker responses.
	MaxLine int `toml:"max_line"`

	// ReorderCapacity is the initial capacity of the output reorder queue,
	// and ReorderGrowth the increment it grows by when full. With zero
	// growth, overflowing the queue aborts the run.
	ReorderCapacity int `toml:"reorder_capacity"`
	ReorderGrowth   int `toml:"reorder_growth"`

	// StartLine is the number assigned to the first input line.
	StartLine int64 `toml:"start_line"`

	// CommitInterval is the number of emitted lines between commits, zero
	// to disable the commit log.
	CommitInterval int `toml:"commit_interval"`

	// Recover resumes from the commit log, if one exists.
	Recover bool `toml:"recover"`

	// KeepCommitLog leaves the commit log in place after a clean run.
	KeepCommitLog bool `toml:"keep_commit_log"`
}

// DefaultConfig returns the defaults, which lack a Command.
func DefaultConfig() Config {
	return Config{
		CommitLogPath:   DefaultCommitLogPath,
		Workers:         1,
		WorkerTimeout:   5 * time.Second,
		Heartbeat:       5 * time.Second,
		MaxLine:         4096,
		ReorderCapacity: 1000,
		ReorderGrowth:   1000,
	}
}

// Validate reports the first invalid parameter, wrapping [ErrInvalidConfig].
func (c *Config) Validate() error {
	switch {
	case c.Command == ``:
		return fmt.Errorf(`%w: command required`, ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf(`%w: workers must be positive, got %d`, ErrInvalidConfig, c.Workers)
	case c.WorkerTimeout <= 0:
		return fmt.Errorf(`%w: worker timeout must be positive, got %s`, ErrInvalidConfig, c.WorkerTimeout)
	case c.Heartbeat < 0:
		return fmt.Errorf(`%w: heartbeat must not be negative, got %s`, ErrInvalidConfig, c.Heartbeat)
	case c.MaxLine < 2:
		return fmt.Errorf(`%w: max line must be at least 2, got %d`, ErrInvalidConfig, c.MaxLine)
	case c.ReorderCapacity < 0 || c.ReorderGrowth < 0:
		return fmt.Errorf(`%w: reorder capacity and growth must not be negative`, ErrInvalidConfig)
	case c.ReorderCapacity == 0 && c.ReorderGrowth == 0:
		return fmt.Errorf(`%w: reorder queue has neither capacity nor growth`, ErrInvalidConfig)
	case c.StartLine < 0:
		return fmt.Errorf(`%w: start line must not be negative, got %d`, ErrInvalidConfig, c.StartLine)
	case c.CommitInterval < 0:
		return fmt.Errorf(`%w: commit interval must not be negative, got %d`, ErrInvalidConfig, c.CommitInterval)
	case (c.CommitInterval > 0 || c.Recover) && c.CommitLogPath == ``:
		return fmt.Errorf(`%w: commit log path required`, ErrInvalidConfig)
	}
	return nil
}

// PoolSize returns the number of slots preallocated for a run: one for the
// input tail, one per reorder queue entry, and two per worker.
func (c *Config) PoolSize() int {
	return 1 + c.ReorderCapacity + 2*c.Workers
}

// PoolBytes estimates the buffer memory of the preallocated pool.
func (c *Config) PoolBytes() uint64 {
	return uint64(c.PoolSize()) * uint64(c.MaxLine)
}
