// Package store remembers the last run a user viewed for each workspace and
// prompt so a session can resume on it.
package store

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize bounds the in-memory store.
const DefaultMemorySize = 256

// LastRunStore records the last viewed run id per workspace and prompt.
// Reads report ok=false when nothing is recorded; writes overwrite.
type LastRunStore interface {
	LastRun(workspaceID, promptID int64) (runID int64, ok bool, err error)
	SetLastRun(workspaceID, promptID, runID int64) error
}

// Key is the storage key for a workspace and prompt.
func Key(workspaceID, promptID int64) string {
	return fmt.Sprintf("workspace:%d:prompt:%d:lastRun", workspaceID, promptID)
}

// ParseKey reverses Key.
func ParseKey(key string) (workspaceID, promptID int64, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "workspace" || parts[2] != "prompt" || parts[4] != "lastRun" {
		return 0, 0, fmt.Errorf("malformed last-run key %q", key)
	}
	if workspaceID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed workspace id in %q: %w", key, err)
	}
	if promptID, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed prompt id in %q: %w", key, err)
	}
	return workspaceID, promptID, nil
}

// MemoryStore keeps the most recently touched entries in memory.
type MemoryStore struct {
	cache *lru.Cache[string, int64]
}

// NewMemoryStore returns a store holding at most size entries, or
// DefaultMemorySize when size is not positive.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	cache, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("create last-run cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (m *MemoryStore) LastRun(workspaceID, promptID int64) (int64, bool, error) {
	id, ok := m.cache.Get(Key(workspaceID, promptID))
	return id, ok, nil
}

func (m *MemoryStore) SetLastRun(workspaceID, promptID, runID int64) error {
	m.cache.Add(Key(workspaceID, promptID), runID)
	return nil
}
