package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/go-para"
)

func parse(t *testing.T, args ...string) (para.Config, error) {
	t.Helper()
	var f cliFlags
	fs := newFlagSet(io.Discard, &f)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return resolveConfig(fs, &f)
}

func TestResolveConfig_positional(t *testing.T) {
	cfg, err := parse(t, `--`, `4`, `grep`, `-v`, `x`)
	if err != nil {
		t.Fatal(err)
	}
	want := para.DefaultConfig()
	want.Workers = 4
	want.Command = `grep`
	want.Args = []string{`-v`, `x`}
	if diff := cmp.Diff(want, cfg); diff != `` {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestResolveConfig_flags(t *testing.T) {
	cfg, err := parse(t, `-m`, `2`, `-c`, `cat`, `-T`, `3`, `-H`, `0`, `-b`, `64`, `-M`, `5`, `-x`, `0`, `-C`, `10`, `-s`, `7`, `-R`, `-k`, `-L`, `log`, `--`, `-n`)
	if err != nil {
		t.Fatal(err)
	}
	want := para.Config{
		Command:         `cat`,
		Args:            []string{`-n`},
		CommitLogPath:   `log`,
		Workers:         2,
		WorkerTimeout:   3 * time.Second,
		MaxLine:         64,
		ReorderCapacity: 5,
		StartLine:       7,
		CommitInterval:  10,
		Recover:         true,
		KeepCommitLog:   true,
	}
	if diff := cmp.Diff(want, cfg); diff != `` {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestResolveConfig_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), `para.toml`)
	const doc = `
command = "sort"
workers = 6
worker_timeout = "2s"
max_line = 128
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parse(t, `-config`, path, `-b`, `256`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Command != `sort` || cfg.Workers != 6 || cfg.WorkerTimeout != 2*time.Second {
		t.Fatalf(`config file not applied: %+v`, cfg)
	}
	if cfg.MaxLine != 256 {
		t.Fatalf(`expected flag to override config file, got %d`, cfg.MaxLine)
	}

	cfg, err = parse(t, `-config`, path, `3`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 3 || cfg.Command != `sort` {
		t.Fatalf(`expected positional workers over config file: %+v`, cfg)
	}
}

func TestResolveConfig_errors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{`zero`, `cat`},
		{`0`, `cat`},
		{`-b`, `1`, `cat`},
		{`-config`, `/nonexistent/para.toml`, `cat`},
	} {
		if _, err := parse(t, args...); err == nil {
			t.Errorf(`expected error for %q`, args)
		}
	}
}

func TestRun_version(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{`-V`}, &stderr); code != exitOK {
		t.Fatalf(`unexpected exit code %d`, code)
	}
	if got := stderr.String(); got != "para version "+version+"\n" {
		t.Fatalf(`unexpected output %q`, got)
	}
}

func TestRun_recoveryInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), `log`)

	var stderr bytes.Buffer
	if code := run([]string{`-r`, `-L`, path}, &stderr); code != exitOK {
		t.Fatalf(`unexpected exit code %d: %s`, code, stderr.String())
	}
	if got := stderr.String(); !strings.Contains(got, `log-present: false, lines-committed: 0, output-offset: 0`) {
		t.Fatalf(`unexpected output %q`, got)
	}

	l, err := para.OpenCommitLog(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.Commit(para.CommitRecord{Lines: 3, Offset: 21}); err != nil {
		t.Fatal(err)
	}

	stderr.Reset()
	if code := run([]string{`-r`, `-L`, path}, &stderr); code != exitOK {
		t.Fatalf(`unexpected exit code %d`, code)
	}
	if got := stderr.String(); !strings.Contains(got, `log-present: true, lines-committed: 3, output-offset: 21`) {
		t.Fatalf(`unexpected output %q`, got)
	}
}

func TestRun_usage(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{`-m`, `-1`, `cat`}, &stderr); code != exitUsage {
		t.Fatalf(`expected usage error, got %d`, code)
	}
	if code := run([]string{`-nope`}, io.Discard); code != exitUsage {
		t.Fatalf(`expected usage error, got %d`, code)
	}
}

func TestRun_files(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, `in`)
	out := filepath.Join(dir, `out`)
	stats := filepath.Join(dir, `stats.toml`)
	if err := os.WriteFile(in, []byte("b\na\nc\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	code := run([]string{`-q`, `-p`, `-i`, in, `-o`, out, `-L`, filepath.Join(dir, `log`), `-stats`, stats, `2`, `cat`}, &stderr)
	if code != exitOK {
		t.Fatalf(`unexpected exit code %d: %s`, code, stderr.String())
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "b\na\nc\n" {
		t.Fatalf(`unexpected output %q`, b)
	}
	if !strings.Contains(stderr.String(), `command = "cat"`) {
		t.Fatalf(`expected parameters to be printed, got %q`, stderr.String())
	}
	if _, err := os.Stat(stats); err != nil {
		t.Fatal(err)
	}
}

func TestRun_workerStderr(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, `in`)
	out := filepath.Join(dir, `out`)
	input := strings.Repeat("x\n", 12)
	if err := os.WriteFile(in, []byte(input), 0o644); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	code := run([]string{`-v`, `-i`, in, `-o`, out, `-L`, filepath.Join(dir, `log`), `3`,
		`sh`, `-c`, `while read l; do echo "err $l" >&2; echo "$l"; done`}, &stderr)
	if code != exitOK {
		t.Fatalf(`unexpected exit code %d: %s`, code, stderr.String())
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != input {
		t.Fatalf(`unexpected output %q`, b)
	}
	if n := strings.Count(stderr.String(), "err x\n"); n != 12 {
		t.Fatalf(`expected 12 stderr lines from workers, got %d`, n)
	}
}
