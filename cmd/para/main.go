// Command para runs a command as N parallel workers over the lines of its
// input, writing each worker's one-line response in input order.
//
// Usage:
//
//	para [options] [--] [workers] [cmd [args...]]
//
// The worker count may be given as -m or as the first positional argument,
// and the command as -c or as the next positional argument. Options set
// explicitly on the command line override a -config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-para"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/pbnjay/memory"
)

const version = `1.2`

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type cliFlags struct {
	command        string
	input          string
	output         string
	commitLog      string
	configPath     string
	statsPath      string
	startLine      int64
	maxLine        int
	workerTimeout  int
	heartbeat      int
	workers        int
	capacity       int
	growth         int
	commitInterval int
	printParams    bool
	verbose        bool
	quiet          bool
	showVersion    bool
	recoveryInfo   bool
	recoverMode    bool
	keepLog        bool
}

func newFlagSet(stderr io.Writer, f *cliFlags) *flag.FlagSet {
	d := para.DefaultConfig()
	fs := flag.NewFlagSet(`para`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage:\n  para [options] [--] [workers] [cmd [args...]]\n\noptions:\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&f.printParams, `p`, false, `print the resolved parameters to stderr`)
	fs.BoolVar(&f.verbose, `v`, false, `debug logging`)
	fs.BoolVar(&f.quiet, `q`, false, `log warnings and errors only`)
	fs.BoolVar(&f.showVersion, `V`, false, `print version and exit`)
	fs.BoolVar(&f.recoveryInfo, `r`, false, `print recovery info, if any, and exit`)
	fs.BoolVar(&f.recoverMode, `R`, false, `resume from the commit log, if one exists`)
	fs.BoolVar(&f.keepLog, `k`, false, `keep the commit log after a clean run`)
	fs.IntVar(&f.maxLine, `b`, d.MaxLine, `maximum length in bytes of a line, including the newline`)
	fs.IntVar(&f.workerTimeout, `T`, int(d.WorkerTimeout/time.Second), `seconds to wait for a response from a worker`)
	fs.IntVar(&f.heartbeat, `H`, int(d.Heartbeat/time.Second), `heartbeat in seconds, 0 to disable`)
	fs.IntVar(&f.workers, `m`, d.Workers, `number of workers (or the first positional argument)`)
	fs.IntVar(&f.capacity, `M`, d.ReorderCapacity, `capacity of the output reorder queue`)
	fs.IntVar(&f.growth, `x`, d.ReorderGrowth, `grow the reorder queue by this many entries when full, 0 to abort instead`)
	fs.IntVar(&f.commitInterval, `C`, d.CommitInterval, `commit every this many output lines, 0 to disable commits`)
	fs.Int64Var(&f.startLine, `s`, d.StartLine, `number of the first input line`)
	fs.StringVar(&f.command, `c`, ``, `worker command (or the positional argument after workers)`)
	fs.StringVar(&f.input, `i`, ``, `input file (default standard input)`)
	fs.StringVar(&f.output, `o`, ``, `output file (default standard output)`)
	fs.StringVar(&f.commitLog, `L`, d.CommitLogPath, `commit log path`)
	fs.StringVar(&f.configPath, `config`, ``, `TOML file of defaults`)
	fs.StringVar(&f.statsPath, `stats`, ``, `write a TOML run summary to this path`)
	return fs
}

// resolveConfig layers explicitly set flags and positional arguments over
// the config file, over the defaults.
func resolveConfig(fs *flag.FlagSet, f *cliFlags) (para.Config, error) {
	cfg := para.DefaultConfig()
	if f.configPath != `` {
		if _, err := toml.DecodeFile(f.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf(`config %s: %w`, f.configPath, err)
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
		switch fl.Name {
		case `b`:
			cfg.MaxLine = f.maxLine
		case `T`:
			cfg.WorkerTimeout = time.Duration(f.workerTimeout) * time.Second
		case `H`:
			cfg.Heartbeat = time.Duration(f.heartbeat) * time.Second
		case `m`:
			cfg.Workers = f.workers
		case `M`:
			cfg.ReorderCapacity = f.capacity
		case `x`:
			cfg.ReorderGrowth = f.growth
		case `C`:
			cfg.CommitInterval = f.commitInterval
		case `s`:
			cfg.StartLine = f.startLine
		case `c`:
			cfg.Command = f.command
		case `L`:
			cfg.CommitLogPath = f.commitLog
		case `R`:
			cfg.Recover = f.recoverMode
		case `k`:
			cfg.KeepCommitLog = f.keepLog
		}
	})

	rest := fs.Args()
	if !set[`m`] && len(rest) != 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 {
			return cfg, fmt.Errorf(`invalid workers %q, must be a positive number`, rest[0])
		}
		cfg.Workers = n
		rest = rest[1:]
	}
	if !set[`c`] && len(rest) != 0 {
		cfg.Command = rest[0]
		cfg.Args = rest[1:]
	} else if len(rest) != 0 {
		cfg.Args = append(cfg.Args, rest...)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if total := memory.TotalMemory(); total != 0 && cfg.PoolBytes() > total/2 {
		return cfg, fmt.Errorf(`buffers would need %d bytes, more than half of physical memory (%d bytes)`, cfg.PoolBytes(), total)
	}
	return cfg, nil
}

func newLogger(w io.Writer, f *cliFlags) *logiface.Logger[logiface.Event] {
	level := logiface.LevelInformational
	switch {
	case f.verbose:
		level = logiface.LevelDebug
	case f.quiet:
		level = logiface.LevelWarning
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func run(args []string, w io.Writer) int {
	// shared by the logger and every worker's standard error
	stderr := para.NewSyncWriter(w)

	var f cliFlags
	fs := newFlagSet(stderr, &f)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if f.showVersion {
		_, _ = fmt.Fprintf(stderr, "para version %s\n", version)
		return exitOK
	}

	cfg, err := resolveConfig(fs, &f)
	if f.recoveryInfo {
		rec, ok, err := para.ReadCommitLog(cfg.CommitLogPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "para: %v\n", err)
			return exitFatal
		}
		_, _ = fmt.Fprintf(stderr, "recovery info --> log-present: %t, lines-committed: %d, output-offset: %d\n", ok, rec.Lines, rec.Offset)
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "para: %v\n", err)
		fs.Usage()
		return exitUsage
	}

	if f.printParams {
		_, _ = fmt.Fprintln(stderr, `----------------------------`)
		_ = toml.NewEncoder(stderr).Encode(cfg)
		_, _ = fmt.Fprintf(stderr, "input = %q\noutput = %q\n", displayPath(f.input, `<stdin>`), displayPath(f.output, `<stdout>`))
		_, _ = fmt.Fprintln(stderr, `----------------------------`)
	}

	logger := newLogger(stderr, &f)

	input, output, err := openEndpoints(cfg, f.input, f.output)
	if err != nil {
		logger.Err().Err(err).Log(`failed to open input or output`)
		return exitFatal
	}

	d, err := para.New(cfg, input, output,
		para.WithLogger(logger),
		para.WithSpawner(&para.ExecSpawner{Stderr: workerStderr(w, stderr)}),
	)
	if err != nil {
		_ = input.Close()
		_ = output.Close()
		logger.Err().Err(err).Log(`invalid configuration`)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := d.Run(ctx)

	if f.statsPath != `` {
		if err := para.WriteStats(f.statsPath, d.Stats()); err != nil {
			logger.Warning().Err(err).Str(`path`, f.statsPath).Log(`failed to write stats`)
		}
	}

	if runErr != nil {
		return exitFatal
	}
	return exitOK
}

// openEndpoints opens the streams. Output is only left untruncated when a
// recovering run has a commit log to recover from.
func openEndpoints(cfg para.Config, inPath, outPath string) (input, output *para.FD, err error) {
	if inPath == `` {
		input, err = para.Stdin()
	} else {
		input, err = para.OpenInput(inPath)
	}
	if err != nil {
		return nil, nil, err
	}

	if outPath == `` {
		output, err = para.Stdout()
	} else {
		truncate := true
		if cfg.Recover {
			_, ok, rerr := para.ReadCommitLog(cfg.CommitLogPath)
			if rerr != nil {
				_ = input.Close()
				return nil, nil, rerr
			}
			truncate = !ok
		}
		output, err = para.OpenOutput(outPath, truncate)
	}
	if err != nil {
		_ = input.Close()
		return nil, nil, err
	}
	return input, output, nil
}

// workerStderr passes a file straight through to the workers, so that
// their output does not need copying.
func workerStderr(w io.Writer, shared io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return shared
}

func displayPath(path, fallback string) string {
	if path == `` {
		return fallback
	}
	return path
}
