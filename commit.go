package para

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultCommitLogPath is the commit log location used when none is given.
const DefaultCommitLogPath = ".para.txnlog"

const (
	commitRecordSize = 16
	commitTempSuffix = ".tmp"
)

// CommitRecord is the durable progress marker: the number of lines fully
// emitted, and the output byte offset immediately after them.
type CommitRecord struct {
	Lines  uint64 `toml:"lines"`
	Offset uint64 `toml:"offset"`
}

// MarshalBinary encodes the record as two little-endian uint64 values.
func (r CommitRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, commitRecordSize)
	binary.LittleEndian.PutUint64(b, r.Lines)
	binary.LittleEndian.PutUint64(b[8:], r.Offset)
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *CommitRecord) UnmarshalBinary(b []byte) error {
	if len(b) != commitRecordSize {
		return fmt.Errorf(`%w: record is %d bytes, expected %d`, ErrCommitLog, len(b), commitRecordSize)
	}
	r.Lines = binary.LittleEndian.Uint64(b)
	r.Offset = binary.LittleEndian.Uint64(b[8:])
	return nil
}

// ReadCommitLog loads the record at path. It reports false, with a zero
// record, if no log exists.
func ReadCommitLog(path string) (CommitRecord, bool, error) {
	var rec CommitRecord
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf(`%w: %w`, ErrCommitLog, err)
	}
	if err := rec.UnmarshalBinary(b); err != nil {
		return CommitRecord{}, false, err
	}
	return rec, true, nil
}

// CommitLog durably records progress, replacing the previous record
// atomically via a sibling temp file with a fixed suffix.
type CommitLog struct {
	output Syncer
	dir    *os.File
	path   string
	temp   string
}

// OpenCommitLog prepares a commit log at path. If output is non-nil and can
// sync, it is flushed before every commit, so that the recorded offset never
// exceeds what is durable in the output.
func OpenCommitLog(path string, output Syncer) (*CommitLog, error) {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf(`%w: open directory: %w`, ErrCommitLog, err)
	}
	return &CommitLog{
		output: output,
		dir:    dir,
		path:   path,
		temp:   path + commitTempSuffix,
	}, nil
}

// Path returns the canonical log path.
func (c *CommitLog) Path() string { return c.path }

// Recover loads the current record, see [ReadCommitLog].
func (c *CommitLog) Recover() (CommitRecord, bool, error) {
	return ReadCommitLog(c.path)
}

// Commit durably replaces the log with rec.
//
// Order: flush output, write and fsync the temp file, fsync the directory,
// rename the temp file over the log. The rename is the commit point.
func (c *CommitLog) Commit(rec CommitRecord) error {
	if c.output != nil && c.output.CanSync() {
		if err := c.output.Sync(); err != nil {
			return fmt.Errorf(`%w: sync output: %w`, ErrCommitLog, err)
		}
	}
	b, _ := rec.MarshalBinary()
	if err := writeSynced(c.temp, b); err != nil {
		return fmt.Errorf(`%w: write %s: %w`, ErrCommitLog, c.temp, err)
	}
	if err := c.dir.Sync(); err != nil {
		return fmt.Errorf(`%w: sync directory: %w`, ErrCommitLog, err)
	}
	if err := os.Rename(c.temp, c.path); err != nil {
		return fmt.Errorf(`%w: %w`, ErrCommitLog, err)
	}
	return nil
}

func writeSynced(path string, b []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// Remove deletes the log and any leftover temp file.
func (c *CommitLog) Remove() error {
	for _, p := range [...]string{c.temp, c.path} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf(`%w: %w`, ErrCommitLog, err)
		}
	}
	return nil
}

// Close releases the directory handle.
func (c *CommitLog) Close() error {
	return c.dir.Close()
}
