package para

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

// Stats summarizes a run.
type Stats struct {
	Recovered       CommitRecord `toml:"recovered"`
	LinesRead       uint64       `toml:"lines_read"`
	LinesSkipped    uint64       `toml:"lines_skipped"`
	LinesWritten    uint64       `toml:"lines_written"`
	BytesWritten    uint64       `toml:"bytes_written"`
	Commits         uint64       `toml:"commits"`
	Heartbeats      uint64       `toml:"heartbeats"`
	Iterations      uint64       `toml:"iterations"`
	Workers         int          `toml:"workers"`
	MaxReorderDepth int          `toml:"max_reorder_depth"`
	ElapsedSeconds  float64      `toml:"elapsed_seconds"`
}

// WriteStats atomically replaces the file at path with s, encoded as TOML.
func WriteStats(path string, s Stats) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf(`para: encode stats: %w`, err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf(`para: write stats: %w`, err)
	}
	return nil
}
