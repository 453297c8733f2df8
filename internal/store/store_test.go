package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyRoundTrip(t *testing.T) {
	key := Key(12, 34)
	if key != "workspace:12:prompt:34:lastRun" {
		t.Fatalf("key = %q", key)
	}
	ws, p, err := ParseKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if ws != 12 || p != 34 {
		t.Errorf("parsed = %d/%d", ws, p)
	}
	for _, bad := range []string{"", "workspace:1:prompt:2", "workspace:x:prompt:2:lastRun", "space:1:prompt:2:lastRun"} {
		if _, _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) expected error", bad)
		}
	}
}

func testStore(t *testing.T, s LastRunStore) {
	t.Helper()
	if _, ok, err := s.LastRun(1, 2); err != nil || ok {
		t.Fatalf("empty store: ok=%t err=%v", ok, err)
	}
	if err := s.SetLastRun(1, 2, 40); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastRun(1, 2, 41); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastRun(1, 2, 41); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastRun(1, 3, 7); err != nil {
		t.Fatal(err)
	}
	id, ok, err := s.LastRun(1, 2)
	if err != nil || !ok || id != 41 {
		t.Errorf("LastRun(1,2) = %d %t %v", id, ok, err)
	}
	id, ok, err = s.LastRun(1, 3)
	if err != nil || !ok || id != 7 {
		t.Errorf("LastRun(1,3) = %d %t %v", id, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := NewMemoryStore(0)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	s, err := NewMemoryStore(2)
	if err != nil {
		t.Fatal(err)
	}
	for p := int64(1); p <= 3; p++ {
		if err := s.SetLastRun(1, p, p*10); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok, _ := s.LastRun(1, 1); ok {
		t.Error("oldest entry should have been evicted")
	}
	if id, ok, _ := s.LastRun(1, 3); !ok || id != 30 {
		t.Errorf("newest entry = %d %t", id, ok)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	testStore(t, NewFileStore(path))

	reopened := NewFileStore(path)
	if id, ok, err := reopened.LastRun(1, 2); err != nil || !ok || id != 41 {
		t.Errorf("reopened LastRun = %d %t %v", id, ok, err)
	}
}

func TestFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := NewFileStore(path).LastRun(1, 1); err != nil || ok {
		t.Errorf("empty file: ok=%t err=%v", ok, err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if _, _, err := s.LastRun(1, 1); err == nil {
		t.Error("expected decode error")
	}
	if err := s.SetLastRun(1, 1, 1); err == nil {
		t.Error("write must not clobber an unreadable state file")
	}
}

func TestFileStore_ParentIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewFileStore(filepath.Join(blocker, "state.json")).SetLastRun(1, 1, 1); err == nil {
		t.Fatal("expected error when the state dir is a file")
	}
}

func TestFileStore_DefaultPath(t *testing.T) {
	if got := NewFileStore("").Path(); got != DefaultStatePath {
		t.Errorf("path = %q", got)
	}
}

func TestFileStore_MalformedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"workspace:1:prompt:2:lastRun": 3, "lastRun": 4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if _, _, err := s.LastRun(1, 2); err == nil {
		t.Error("expected error for a malformed key")
	}
	if err := s.SetLastRun(1, 2, 5); err == nil {
		t.Error("write must not clobber a state file with malformed keys")
	}
}

type countingStore struct {
	LastRunStore
	reads int
}

func (c *countingStore) LastRun(workspaceID, promptID int64) (int64, bool, error) {
	c.reads++
	return c.LastRunStore.LastRun(workspaceID, promptID)
}

func TestCached(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestCached_ReadsThroughOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := NewFileStore(path).SetLastRun(5, 6, 99); err != nil {
		t.Fatal(err)
	}
	backing := &countingStore{LastRunStore: NewFileStore(path)}
	s, err := NewCached(backing, 4)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		id, ok, err := s.LastRun(5, 6)
		if err != nil || !ok || id != 99 {
			t.Fatalf("LastRun = %d %t %v", id, ok, err)
		}
	}
	if backing.reads != 1 {
		t.Errorf("backing reads = %d, want 1", backing.reads)
	}
	if _, ok, _ := s.LastRun(7, 8); ok {
		t.Error("unknown key reported as present")
	}
	if backing.reads != 2 {
		t.Errorf("misses must consult the backing store, reads = %d", backing.reads)
	}
}

func TestCached_WriteFailureLeavesMemoryUntouched(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "file")
	if err := os.WriteFile(parent, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewCached(NewFileStore(filepath.Join(parent, "state.json")), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastRun(1, 1, 1); err == nil {
		t.Fatal("expected write error")
	}
	if _, ok, _ := s.mem.LastRun(1, 1); ok {
		t.Error("failed write must not be cached")
	}
}
