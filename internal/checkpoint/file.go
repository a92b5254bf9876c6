package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists a Snapshot as JSON at a fixed path, via write-to-temp
// then rename so a crash mid-write never leaves a half-written file behind.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	data, err := marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading %s: %w", s.path, err)
	}
	snap, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parsing %s: %w", s.path, err)
	}
	return snap, nil
}
