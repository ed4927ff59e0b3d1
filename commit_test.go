package para

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
)

type fakeSyncer struct {
	can   bool
	syncs int
	err   error
}

func (f *fakeSyncer) CanSync() bool { return f.can }

func (f *fakeSyncer) Sync() error {
	f.syncs++
	return f.err
}

func TestCommitLog_commitAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), `.para.txnlog`)

	if rec, ok, err := ReadCommitLog(path); err != nil || ok || rec != (CommitRecord{}) {
		t.Fatalf(`expected no prior commit, got %+v %v %v`, rec, ok, err)
	}

	out := &fakeSyncer{can: true}
	log, err := OpenCommitLog(path, out)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	for _, rec := range []CommitRecord{{Lines: 5, Offset: 40}, {Lines: 10, Offset: 1 << 40}} {
		if err := log.Commit(rec); err != nil {
			t.Fatal(err)
		}
		got, ok, err := log.Recover()
		if err != nil || !ok {
			t.Fatalf(`recover failed: %v %v`, ok, err)
		}
		if diff := cmp.Diff(rec, got); diff != `` {
			t.Fatalf("unexpected record (-want +got):\n%s", diff)
		}
	}
	if out.syncs != 2 {
		t.Fatalf(`expected output to be synced before each commit, got %d`, out.syncs)
	}
	if _, err := os.Stat(path + commitTempSuffix); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf(`expected temp file to be renamed away, got %v`, err)
	}

	if err := log.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := ReadCommitLog(path); err != nil || ok {
		t.Fatalf(`expected removed log, got %v %v`, ok, err)
	}
	if err := log.Remove(); err != nil {
		t.Fatalf(`removing twice should succeed, got %v`, err)
	}
}

func TestCommitLog_outputSyncFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), `log`)
	log, err := OpenCommitLog(path, &fakeSyncer{can: true, err: errors.New(`disk gone`)})
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	if err := log.Commit(CommitRecord{Lines: 1}); !errors.Is(err, ErrCommitLog) {
		t.Fatalf(`expected ErrCommitLog, got %v`, err)
	}
	if _, ok, _ := ReadCommitLog(path); ok {
		t.Fatal(`failed commit must not replace the log`)
	}
}

func TestCommitLog_unsyncableOutput(t *testing.T) {
	out := &fakeSyncer{can: false}
	log, err := OpenCommitLog(filepath.Join(t.TempDir(), `log`), out)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	if err := log.Commit(CommitRecord{Lines: 1, Offset: 2}); err != nil {
		t.Fatal(err)
	}
	if out.syncs != 0 {
		t.Fatal(`output that cannot sync must not be synced`)
	}
}

func TestReadCommitLog_corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), `log`)
	if err := os.WriteFile(path, []byte(`short`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadCommitLog(path); !errors.Is(err, ErrCommitLog) {
		t.Fatalf(`expected ErrCommitLog, got %v`, err)
	}
}

func TestWriteStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), `stats.toml`)
	want := Stats{
		Recovered:       CommitRecord{Lines: 3, Offset: 12},
		LinesRead:       10,
		LinesWritten:    7,
		MaxReorderDepth: 2,
		Workers:         3,
	}
	if err := WriteStats(path, want); err != nil {
		t.Fatal(err)
	}
	var got Stats
	if _, err := toml.DecodeFile(path, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != `` {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}
}
