package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStatePath is where the CLI keeps local state.
const DefaultStatePath = ".evalstudio/state.json"

// FileStore keeps last-run entries in a JSON object on disk, keyed by Key.
// Writes replace the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ LastRunStore = (*FileStore)(nil)

// NewFileStore returns a store backed by path, or DefaultStatePath when empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultStatePath
	}
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LastRun(workspaceID, promptID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return 0, false, err
	}
	id, ok := entries[Key(workspaceID, promptID)]
	return id, ok, nil
}

func (s *FileStore) SetLastRun(workspaceID, promptID, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return err
	}
	key := Key(workspaceID, promptID)
	if cur, ok := entries[key]; ok && cur == runID {
		return nil
	}
	entries[key] = runID
	return s.save(entries)
}

func (s *FileStore) load() (map[string]int64, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	entries := map[string]int64{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	for key := range entries {
		if _, _, err := ParseKey(key); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", s.path, err)
		}
	}
	return entries, nil
}

func (s *FileStore) save(entries map[string]int64) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create state temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
