package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"learnkit/adapters/memory"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments: reads are served from the
// embedded in-memory store and every mutation rewrites the file.
type Store struct {
	*memory.Store
	path string
}

// New loads path if it exists and returns a store writing back to it.
func New(path string, opts ...memory.Option) (*Store, error) {
	s := &Store{path: path}
	s.Store = memory.New(append(opts, memory.WithPersist(s.persist))...)
	snap, err := load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return s, nil
	}
	s.Store.Restore(snap)
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func load(path string) (memory.Snapshot, error) {
	var snap memory.Snapshot
	b, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("decode %s: %w", path, err)
	}
	return snap, nil
}

// persist writes through a temp file and rename so readers never see a torn file.
func (s *Store) persist(snap memory.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
