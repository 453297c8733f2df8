package store

import "fmt"

// Cached serves reads from a MemoryStore and falls back to the backing store
// on a miss. Writes go to the backing store first and then to memory.
type Cached struct {
	mem     *MemoryStore
	backing LastRunStore
}

var _ LastRunStore = (*Cached)(nil)

// NewCached fronts backing with an in-memory store of the given size.
func NewCached(backing LastRunStore, size int) (*Cached, error) {
	mem, err := NewMemoryStore(size)
	if err != nil {
		return nil, err
	}
	return &Cached{mem: mem, backing: backing}, nil
}

// Open returns the CLI's last-run store: a file at path behind a memory cache.
func Open(path string) (*Cached, error) {
	c, err := NewCached(NewFileStore(path), DefaultMemorySize)
	if err != nil {
		return nil, fmt.Errorf("open last-run store: %w", err)
	}
	return c, nil
}

func (c *Cached) LastRun(workspaceID, promptID int64) (int64, bool, error) {
	if id, ok, _ := c.mem.LastRun(workspaceID, promptID); ok {
		return id, true, nil
	}
	id, ok, err := c.backing.LastRun(workspaceID, promptID)
	if err != nil || !ok {
		return 0, false, err
	}
	_ = c.mem.SetLastRun(workspaceID, promptID, id)
	return id, true, nil
}

func (c *Cached) SetLastRun(workspaceID, promptID, runID int64) error {
	if err := c.backing.SetLastRun(workspaceID, promptID, runID); err != nil {
		return err
	}
	return c.mem.SetLastRun(workspaceID, promptID, runID)
}
